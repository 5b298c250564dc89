package domain

// Outcome tags how a single pipeline invocation terminated.
type Outcome string

const (
	OutcomeAnswered              Outcome = "answered"
	OutcomeRejected              Outcome = "rejected"
	OutcomeModerationUnavailable Outcome = "moderation_unavailable"
	OutcomeDispatchFailed        Outcome = "dispatch_failed"
	OutcomeNotConfigured         Outcome = "not_configured"
	OutcomeInternalError         Outcome = "internal_error"
)

// ModerationVerdict is the interpreted result of one moderation call.
// Unavailable is set when the moderation backend could not be reached or
// returned something unusable; such verdicts are never safe.
type ModerationVerdict struct {
	IsSafe      bool
	Explanation string
	TokensUsed  int
	Unavailable bool
}

// QueryResult is the externally visible output of one pipeline invocation.
type QueryResult struct {
	Response   string  `json:"response"`
	TokensUsed int     `json:"tokensUsed"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
}

// Failed reports whether the invocation ended on an error path.
func (r QueryResult) Failed() bool {
	switch r.Outcome {
	case OutcomeAnswered, OutcomeRejected:
		return false
	default:
		return true
	}
}

// Usage is a session's running token accounting.
type Usage struct {
	Last    int `json:"tokensUsedLast"`
	Total   int `json:"totalTokensUsed"`
	Queries int `json:"queries"`
}
