package domain

// UsageRecord is a single persisted ledger row for one recorded query.
// It never carries query or response text.
type UsageRecord struct {
	PK         string
	SK         string
	SessionID  string
	QueryID    string
	Outcome    Outcome
	Tokens     int
	RecordedAt string
	TTL        int64
}

// SessionMeta stores aggregate usage for a session.
type SessionMeta struct {
	PK           string
	SK           string
	SessionID    string
	LastActivity string
	TotalTokens  int
	Queries      int
	TTL          int64
}
