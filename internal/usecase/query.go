package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hospital-query/internal/domain"
)

const (
	StageModeration = "moderation"
	StageReply      = "reply"
)

// LLMClient is the single backend capability the pipeline consumes: one
// chat completion that returns its reply and its own token cost together.
type LLMClient interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

// Observer receives pipeline events for metrics.
type Observer interface {
	ObserveBackendCall(stage string, elapsed time.Duration, err error)
	ObserveModeration(verdict domain.ModerationVerdict)
	ObserveQuery(result domain.QueryResult)
}

type noopObserver struct{}

func (noopObserver) ObserveBackendCall(string, time.Duration, error) {}
func (noopObserver) ObserveModeration(domain.ModerationVerdict)       {}
func (noopObserver) ObserveQuery(domain.QueryResult)                  {}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Config tunes the moderation and reply calls.
type Config struct {
	ModerationMaxTokens int
	ReplyMaxTokens      int
	Temperature         float64
	SystemPrompt        string
}

// DefaultConfig mirrors the limits the assistant was tuned with.
func DefaultConfig() Config {
	return Config{
		ModerationMaxTokens: defaultModerationMaxToks,
		ReplyMaxTokens:      defaultReplyMaxTokens,
		Temperature:         defaultTemperature,
		SystemPrompt:        DefaultSystemPrompt(),
	}
}

// QueryService runs the sanitize, moderate, dispatch pipeline. It holds no
// per-session state; the backend is passed into every call.
type QueryService struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

type Option func(*QueryService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *QueryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *QueryService) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewQueryService(cfg Config, opts ...Option) (*QueryService, error) {
	if cfg.ModerationMaxTokens <= 0 {
		return nil, errors.New("usecase: moderation max tokens must be positive")
	}
	if cfg.ReplyMaxTokens <= 0 {
		return nil, errors.New("usecase: reply max tokens must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("usecase: temperature %.2f out of range [0, 2]", cfg.Temperature)
	}
	s := &QueryService{
		cfg:      cfg,
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleQuery turns raw user text into a QueryResult. It never panics and
// never returns an error: every failure becomes a result with an apology and
// whatever tokens were already spent. A nil llm means no credential has been
// configured yet.
func (s *QueryService) HandleQuery(ctx context.Context, llm LLMClient, raw string) (result domain.QueryResult) {
	if llm == nil {
		result = domain.QueryResult{
			Response: notConfiguredMessage,
			Outcome:  domain.OutcomeNotConfigured,
			Reason:   string(ErrorNotConfigured),
		}
		s.observer.ObserveQuery(result)
		return result
	}

	spent := 0
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "error in handling hospital query", "panic", r)
			result = domain.QueryResult{
				Response:   fmt.Sprintf(internalErrorFormat, r),
				TokensUsed: spent,
				Outcome:    domain.OutcomeInternalError,
				Reason:     string(ErrorInternal),
			}
		}
		s.observer.ObserveQuery(result)
	}()

	question := Sanitize(raw)

	verdict := s.Moderate(ctx, llm, question)
	spent += verdict.TokensUsed
	switch {
	case verdict.Unavailable:
		return domain.QueryResult{
			Response:   rejectedMessage(verdict.Explanation),
			TokensUsed: spent,
			Outcome:    domain.OutcomeModerationUnavailable,
			Reason:     "moderation_unavailable",
		}
	case !verdict.IsSafe:
		return domain.QueryResult{
			Response:   rejectedMessage(verdict.Explanation),
			TokensUsed: spent,
			Outcome:    domain.OutcomeRejected,
			Reason:     "moderation_flagged",
		}
	}

	reply, err := s.Dispatch(ctx, llm, question)
	if err != nil {
		s.logger.ErrorContext(ctx, "error in handling hospital query", "err", err)
		var ucErr *Error
		description := err.Error()
		reason := string(ErrorInternal)
		if errors.As(err, &ucErr) {
			description = ucErr.Describe()
			reason = ucErr.Reason
		}
		return domain.QueryResult{
			Response:   dispatchErrorMessage(description),
			TokensUsed: spent,
			Outcome:    domain.OutcomeDispatchFailed,
			Reason:     reason,
		}
	}
	spent += reply.TotalTokens

	return domain.QueryResult{
		Response:   reply.Text,
		TokensUsed: spent,
		Outcome:    domain.OutcomeAnswered,
	}
}

func (s *QueryService) complete(ctx context.Context, stage string, llm LLMClient, req domain.CompletionRequest) (domain.Completion, error) {
	start := time.Now()
	out, err := llm.Complete(ctx, req)
	s.observer.ObserveBackendCall(stage, time.Since(start), err)
	if err != nil {
		return domain.Completion{}, err
	}
	if out.TotalTokens < 0 {
		out.TotalTokens = 0
	}
	return out, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
