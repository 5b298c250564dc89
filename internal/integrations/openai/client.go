package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"hospital-query/internal/domain"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "mixtral-8x7b-32768"
	defaultTimeout = 60 * time.Second
)

// completionsAPI is the slice of the SDK used here.
// *sdk.ChatCompletionService satisfies it.
type completionsAPI interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible chat completions client. One Client
// is bound to one API key; configuring a new key means building a new Client.
type Client struct {
	api      completionsAPI
	model    string
	endpoint string
}

type settings struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*settings)

func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		s.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(s *settings) {
		s.model = strings.TrimSpace(model)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *settings) {
		s.httpClient = httpClient
	}
}

// NewClient creates a Client for the given API key. SDK retries are
// disabled: every call either succeeds once or fails.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	s := settings{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: defaultTimeout}
	}

	sc := sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(s.baseURL),
		option.WithHTTPClient(s.httpClient),
		option.WithMaxRetries(0),
	)
	return &Client{
		api:      &sc.Chat.Completions,
		model:    s.model,
		endpoint: chatURL(s.baseURL),
	}, nil
}

func (c *Client) Model() string { return c.model }

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/chat/completions"
}

// Complete sends one chat completion and returns the first choice's text
// together with the total tokens the backend reports for this call.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if c.api == nil {
		return domain.Completion{}, errors.New("openai: client not initialized")
	}
	if len(req.Messages) == 0 {
		return domain.Completion{}, errors.New("openai: at least one message is required")
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: toSDKMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	resp, err := c.api.New(ctx, params)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openai: request failed: %w", c.classify(err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return domain.Completion{}, errors.New("openai: no choices in response")
	}
	return domain.Completion{
		Text:        resp.Choices[0].Message.Content,
		TotalTokens: int(resp.Usage.TotalTokens),
	}, nil
}

func (c *Client) classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return &HTTPStatusError{
		StatusCode: apiErr.StatusCode,
		URL:        c.endpoint,
		Body:       apiErr.Message,
	}
}

func toSDKMessages(messages []domain.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
