package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"hospital-query/internal/domain"
	"hospital-query/internal/session"
	"hospital-query/internal/usecase"
)

const (
	correlationHeader       = "X-Correlation-Id"
	defaultMaxMessageLength = 1000
)

// Sessions resolves a session by id; an empty id creates a new one.
// *session.Store satisfies it.
type Sessions interface {
	Open(ctx context.Context, id string) (*session.Session, error)
}

// TokenSource supplies the backend API key. *paramstore.Credential
// satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type queryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type queryResponse struct {
	Response        string         `json:"response"`
	TokensUsed      int            `json:"tokensUsed"`
	TotalTokensUsed int            `json:"totalTokensUsed"`
	SessionID       string         `json:"sessionId"`
	Outcome         domain.Outcome `json:"outcome"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// Handler serves POST /query behind API Gateway.
type Handler struct {
	sessions  Sessions
	creds     TokenSource
	logger    *slog.Logger
	maxMsgLen int
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMaxMessageLength(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMsgLen = n
		}
	}
}

func NewHandler(sessions Sessions, creds TokenSource, opts ...Option) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("handler: sessions must not be nil")
	}
	if creds == nil {
		return nil, errors.New("handler: token source must not be nil")
	}
	h := &Handler{
		sessions:  sessions,
		creds:     creds,
		logger:    slog.Default(),
		maxMsgLen: defaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	var in queryRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return h.errorResponse(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}), nil
	}
	if err := h.validate(in); err != nil {
		return h.errorResponse(correlationID, err), nil
	}

	sess, err := h.sessions.Open(ctx, in.SessionID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to open session", "err", err)
		return h.errorResponse(correlationID, &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_error", Err: err}), nil
	}

	if !sess.Configured() {
		key, err := h.creds.Token(ctx)
		if err == nil {
			err = sess.Configure(key)
		}
		if err != nil {
			logger.ErrorContext(ctx, "failed to configure backend credential", "err", err)
			return h.errorResponse(correlationID, &usecase.Error{Code: usecase.ErrorNotConfigured, Reason: "credential_unavailable", Err: err}), nil
		}
	}

	res, usage := sess.Handle(ctx, in.Message)
	logger.InfoContext(ctx, "query handled",
		"session_id", sess.ID(),
		"outcome", res.Outcome,
		"tokens_used", res.TokensUsed,
		"total_tokens_used", usage.Total,
	)

	return jsonResponse(http.StatusOK, correlationID, queryResponse{
		Response:        res.Response,
		TokensUsed:      res.TokensUsed,
		TotalTokensUsed: usage.Total,
		SessionID:       sess.ID(),
		Outcome:         res.Outcome,
	}), nil
}

func (h *Handler) validate(in queryRequest) error {
	if strings.TrimSpace(in.Message) == "" {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}
	}
	if utf8.RuneCountInString(in.Message) > h.maxMsgLen {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "message_too_long"}
	}
	if in.SessionID != "" {
		if _, err := uuid.Parse(in.SessionID); err != nil {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_session_id", Err: err}
		}
	}
	return nil
}

func (h *Handler) errorResponse(correlationID string, err error) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
	}
	return jsonResponse(statusFor(code), correlationID, errorResponse{
		Error:         string(code),
		Message:       messageFor(code),
		CorrelationID: correlationID,
	})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotConfigured:
		return http.StatusServiceUnavailable
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code usecase.ErrorCode) string {
	switch code {
	case usecase.ErrorInvalidInput:
		return "invalid request"
	case usecase.ErrorNotConfigured:
		return "service is not configured"
	case usecase.ErrorRateLimited:
		return "too many requests, please try again later"
	case usecase.ErrorUpstream:
		return "upstream service error"
	default:
		return "internal server error"
	}
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"internal server error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through with client casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
