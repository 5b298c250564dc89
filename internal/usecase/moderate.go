package usecase

import (
	"context"

	"hospital-query/internal/domain"
)

// Moderate classifies text as safe or unsafe. It fails closed: a backend
// error or panic yields an unsafe, Unavailable verdict with zero cost.
func (s *QueryService) Moderate(ctx context.Context, llm LLMClient, text string) (verdict domain.ModerationVerdict) {
	defer func() { s.observer.ObserveModeration(verdict) }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "error in content moderation", "panic", r)
			verdict = moderationUnavailable()
		}
	}()

	if llm == nil {
		s.logger.ErrorContext(ctx, "error in content moderation", "err", "backend not configured")
		return moderationUnavailable()
	}

	out, err := s.complete(ctx, StageModeration, llm, domain.CompletionRequest{
		Messages:  buildModerationMessages(text),
		MaxTokens: s.cfg.ModerationMaxTokens,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "error in content moderation", "err", err)
		return moderationUnavailable()
	}

	safe, explanation := parseModerationReply(out.Text)
	s.logger.InfoContext(ctx, "moderation result", "result", explanation, "safe", safe, "tokens", out.TotalTokens)
	return domain.ModerationVerdict{
		IsSafe:      safe,
		Explanation: explanation,
		TokensUsed:  out.TotalTokens,
	}
}

func moderationUnavailable() domain.ModerationVerdict {
	return domain.ModerationVerdict{
		IsSafe:      false,
		Explanation: moderationErrorMessage,
		TokensUsed:  0,
		Unavailable: true,
	}
}
