package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"hospital-query/internal/domain"
	"hospital-query/internal/session"
	"hospital-query/internal/usecase"
)

type stubPipeline struct {
	out  domain.QueryResult
	seen []string
	llm  []usecase.LLMClient
}

func (p *stubPipeline) HandleQuery(_ context.Context, llm usecase.LLMClient, raw string) domain.QueryResult {
	p.seen = append(p.seen, raw)
	p.llm = append(p.llm, llm)
	return p.out
}

type stubLLM struct{ key string }

func (stubLLM) Complete(context.Context, domain.CompletionRequest) (domain.Completion, error) {
	return domain.Completion{}, nil
}

type stubCreds struct {
	token string
	err   error
	calls int
}

func (c *stubCreds) Token(context.Context) (string, error) {
	c.calls++
	return c.token, c.err
}

type failingSessions struct{}

func (failingSessions) Open(context.Context, string) (*session.Session, error) {
	return nil, errors.New("store unavailable")
}

func newStore(t *testing.T, p *stubPipeline) *session.Store {
	t.Helper()
	st, err := session.NewStore(func(id string) (*session.Session, error) {
		return session.New(id, p, func(key string) (usecase.LLMClient, error) {
			return stubLLM{key: key}, nil
		})
	}, nil)
	require.NoError(t, err)
	return st
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/query",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubCreds{})
	require.Error(t, err)
	_, err = NewHandler(newStore(t, &stubPipeline{}), nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	p := &stubPipeline{out: domain.QueryResult{Response: "Visiting hours are 9 to 5.", TokensUsed: 60, Outcome: domain.OutcomeAnswered}}
	creds := &stubCreds{token: "gsk-ssm"}
	h, err := NewHandler(newStore(t, p), creds)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"When can I visit?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"When can I visit?"}, p.seen)
	require.Equal(t, "gsk-ssm", p.llm[0].(stubLLM).key)

	out := parseBody[queryResponse](t, resp.Body)
	require.Equal(t, "Visiting hours are 9 to 5.", out.Response)
	require.Equal(t, 60, out.TokensUsed)
	require.Equal(t, 60, out.TotalTokensUsed)
	require.Equal(t, domain.OutcomeAnswered, out.Outcome)
	_, err = uuid.Parse(out.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_SessionTotalsAccumulate(t *testing.T) {
	p := &stubPipeline{out: domain.QueryResult{Response: "ok", TokensUsed: 25, Outcome: domain.OutcomeAnswered}}
	creds := &stubCreds{token: "gsk-ssm"}
	h, err := NewHandler(newStore(t, p), creds)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"first"}`))
	require.NoError(t, err)
	first := parseBody[queryResponse](t, resp.Body)

	resp, err = h.Handle(context.Background(), makeEvent(`{"message":"second","sessionId":"`+first.SessionID+`"}`))
	require.NoError(t, err)
	second := parseBody[queryResponse](t, resp.Body)

	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, 50, second.TotalTokensUsed)
	require.Equal(t, 1, creds.calls, "configured sessions do not refetch the credential")
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(newStore(t, &stubPipeline{}), &stubCreds{token: "k"})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, resp.Headers["X-Correlation-Id"], out.CorrelationID)
}

func TestHandle_ValidatesInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty message", body: `{"message":"   "}`},
		{name: "too long", body: `{"message":"` + strings.Repeat("a", 11) + `"}`},
		{name: "bad session id", body: `{"message":"hi","sessionId":"not-a-uuid"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubPipeline{}
			h, err := NewHandler(newStore(t, p), &stubCreds{token: "k"}, WithMaxMessageLength(10))
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(tc.body))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Empty(t, p.seen)
		})
	}
}

func TestHandle_CredentialUnavailable(t *testing.T) {
	p := &stubPipeline{}
	h, err := NewHandler(newStore(t, p), &stubCreds{err: errors.New("AccessDeniedException")})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorNotConfigured), out.Error)
	require.NotContains(t, resp.Body, "AccessDeniedException")
	require.Empty(t, p.seen)
}

func TestHandle_EmptyCredential(t *testing.T) {
	h, err := NewHandler(newStore(t, &stubPipeline{}), &stubCreds{token: "  "})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandle_SessionStoreError(t *testing.T) {
	h, err := NewHandler(failingSessions{}, &stubCreds{token: "k"})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInternal), parseBody[errorResponse](t, resp.Body).Error)
}

func TestHandle_PipelineFailuresAreStillOK(t *testing.T) {
	p := &stubPipeline{out: domain.QueryResult{Response: "I apologize...", TokensUsed: 10, Outcome: domain.OutcomeDispatchFailed}}
	h, err := NewHandler(newStore(t, p), &stubCreds{token: "k"})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[queryResponse](t, resp.Body)
	require.Equal(t, domain.OutcomeDispatchFailed, out.Outcome)
	require.Equal(t, 10, out.TotalTokensUsed)
}

func TestStatusFor(t *testing.T) {
	cases := map[usecase.ErrorCode]int{
		usecase.ErrorInvalidInput:  http.StatusBadRequest,
		usecase.ErrorNotConfigured: http.StatusServiceUnavailable,
		usecase.ErrorRateLimited:   http.StatusTooManyRequests,
		usecase.ErrorUpstream:      http.StatusBadGateway,
		usecase.ErrorInternal:      http.StatusInternalServerError,
		"SOMETHING_ELSE":           http.StatusInternalServerError,
	}
	for code, status := range cases {
		require.Equal(t, status, statusFor(code), code)
		require.NotEmpty(t, messageFor(code))
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	p := &stubPipeline{out: domain.QueryResult{Response: "ok", Outcome: domain.OutcomeAnswered}}
	h, err := NewHandler(newStore(t, p), &stubCreds{token: "k"})
	require.NoError(t, err)

	event := makeEvent(`{"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
