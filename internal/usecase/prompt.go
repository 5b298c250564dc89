package usecase

import (
	"fmt"
	"strings"

	"hospital-query/internal/domain"
)

const (
	moderationSystemPrompt = "You are a content moderation system."
	moderationSafePrefix   = "safe"

	notConfiguredMessage     = "Please enter your GROQ API key in the input field above."
	moderationErrorMessage   = "Error in content moderation"
	rejectedMessageFormat    = "I apologize, but I cannot process this query. %s"
	dispatchErrorFormat      = "I apologize, but I encountered an error while processing your query: %s. Please try again later."
	internalErrorFormat      = "I apologize, but I encountered an unexpected error while processing your query: %v. Please try again later."
	defaultAssistantPersona  = "You are a hospital assistant AI."
	defaultModerationMaxToks = 100
	defaultReplyMaxTokens    = 500
	defaultTemperature       = 0.5
)

// DefaultSystemPrompt is the persona every reply is generated under.
func DefaultSystemPrompt() string {
	return strings.Join([]string{
		defaultAssistantPersona,
		"You help users with their queries about hospital services, appointments, and general medical information.",
		"Provide concise and helpful responses.",
		"Do not provide any personal medical advice or diagnoses.",
	}, " ")
}

func buildModerationPrompt(text string) string {
	return strings.Join([]string{
		"",
		"You are an AI content moderation system. Your task is to analyze the given text and determine if it contains " +
			"any inappropriate content, such as profanity, hate speech, or sensitive medical information. " +
			"Respond with either \"SAFE\" or \"UNSAFE\", followed by a brief explanation.",
		"",
		"Text to moderate: " + text,
		"",
		"Response:",
		"",
	}, "\n")
}

func buildModerationMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: moderationSystemPrompt},
		{Role: domain.RoleUser, Content: buildModerationPrompt(text)},
	}
}

func buildReplyMessages(systemPrompt, question string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2)
	if p := strings.TrimSpace(systemPrompt); p != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: p})
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: question})
}

// parseModerationReply interprets the moderator's literal reply. Only a reply
// that begins with "safe" (any case) passes; the reply itself is the
// explanation either way.
func parseModerationReply(raw string) (safe bool, explanation string) {
	explanation = strings.TrimSpace(raw)
	return strings.HasPrefix(strings.ToLower(explanation), moderationSafePrefix), explanation
}

func rejectedMessage(explanation string) string {
	return fmt.Sprintf(rejectedMessageFormat, explanation)
}

func dispatchErrorMessage(description string) string {
	return fmt.Sprintf(dispatchErrorFormat, description)
}
