package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"hospital-query/internal/domain"
)

// Dispatch sends already-moderated text to the assistant and returns the
// reply with the token cost of that same call.
func (s *QueryService) Dispatch(ctx context.Context, llm LLMClient, text string) (domain.Completion, error) {
	if llm == nil {
		return domain.Completion{}, newError(ErrorNotConfigured, "backend_not_configured", nil)
	}

	temperature := s.cfg.Temperature
	out, err := s.complete(ctx, StageReply, llm, domain.CompletionRequest{
		Messages:    buildReplyMessages(s.cfg.SystemPrompt, text),
		MaxTokens:   s.cfg.ReplyMaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return domain.Completion{}, newError(ErrorRateLimited, "reply_rate_limited", err)
		}
		return domain.Completion{}, newError(ErrorUpstream, "reply_error", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return domain.Completion{}, newError(ErrorUpstream, "reply_empty", errors.New("empty reply from assistant"))
	}
	out.Text = strings.TrimSpace(out.Text)
	return out, nil
}
