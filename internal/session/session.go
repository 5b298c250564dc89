package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"hospital-query/internal/domain"
	"hospital-query/internal/usecase"
)

// ErrEmptyCredential is returned by Configure for a blank API key.
var ErrEmptyCredential = errors.New("session: api key must not be empty")

// BackendFactory builds a backend bound to one API key.
type BackendFactory func(apiKey string) (usecase.LLMClient, error)

// Pipeline runs one query against a backend. *usecase.QueryService
// satisfies it.
type Pipeline interface {
	HandleQuery(ctx context.Context, llm usecase.LLMClient, raw string) domain.QueryResult
}

// Ledger persists token usage outside the process. *repository.Client
// satisfies it.
type Ledger interface {
	RecordUsage(ctx context.Context, sessionID string, res domain.QueryResult) (domain.SessionMeta, error)
	GetSessionMeta(ctx context.Context, sessionID string) (domain.SessionMeta, error)
	ResetSession(ctx context.Context, sessionID string) error
}

// Session owns one user's backend handle and running token totals. All
// state is guarded by mu; the pipeline itself runs without holding it.
type Session struct {
	id       string
	pipeline Pipeline
	factory  BackendFactory
	ledger   Ledger
	logger   *slog.Logger

	mu    sync.Mutex
	llm   usecase.LLMClient
	usage domain.Usage
}

type Option func(*Session)

func WithLedger(l Ledger) Option {
	return func(s *Session) {
		s.ledger = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a session with the credential gate closed.
func New(id string, pipeline Pipeline, factory BackendFactory, opts ...Option) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session: id must not be empty")
	}
	if pipeline == nil {
		return nil, errors.New("session: pipeline must not be nil")
	}
	if factory == nil {
		return nil, errors.New("session: backend factory must not be nil")
	}
	s := &Session{
		id:       id,
		pipeline: pipeline,
		factory:  factory,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Configure replaces the session's backend with one built for apiKey. A
// blank key closes the gate; a factory failure leaves the current backend
// untouched.
func (s *Session) Configure(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		s.mu.Lock()
		s.llm = nil
		s.mu.Unlock()
		return ErrEmptyCredential
	}
	llm, err := s.factory(apiKey)
	if err != nil {
		return fmt.Errorf("session: configure backend: %w", err)
	}
	if llm == nil {
		return errors.New("session: backend factory returned nil")
	}

	s.mu.Lock()
	s.llm = llm
	s.mu.Unlock()

	s.logger.Info("session configured", "session_id", s.id)
	return nil
}

func (s *Session) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llm != nil
}

// Handle runs one query with the current backend and records its cost.
func (s *Session) Handle(ctx context.Context, raw string) (domain.QueryResult, domain.Usage) {
	s.mu.Lock()
	llm := s.llm
	s.mu.Unlock()

	res := s.pipeline.HandleQuery(ctx, llm, raw)
	return res, s.Record(ctx, res)
}

// Record adds a result's tokens to the running totals. With a ledger
// attached the persisted totals win unless they trail the in-memory query
// count (an overlapping call read the meta item first). A ledger failure is
// logged and the in-memory totals stand.
func (s *Session) Record(ctx context.Context, res domain.QueryResult) domain.Usage {
	tokens := res.TokensUsed
	if tokens < 0 {
		tokens = 0
	}

	s.mu.Lock()
	s.usage.Last = tokens
	s.usage.Total += tokens
	s.usage.Queries++
	snapshot := s.usage
	s.mu.Unlock()

	if s.ledger == nil {
		return snapshot
	}

	meta, err := s.ledger.RecordUsage(ctx, s.id, res)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record usage", "session_id", s.id, "err", err)
		return snapshot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.Queries >= s.usage.Queries {
		s.usage.Total = meta.TotalTokens
		s.usage.Queries = meta.Queries
	}
	return s.usage
}

func (s *Session) Usage() domain.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Reset zeroes the counters. The backend handle is kept.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.usage = domain.Usage{}
	s.mu.Unlock()

	if s.ledger == nil {
		return nil
	}
	if err := s.ledger.ResetSession(ctx, s.id); err != nil {
		return fmt.Errorf("session: reset ledger: %w", err)
	}
	return nil
}

// Restore loads persisted totals for this session from the ledger.
func (s *Session) Restore(ctx context.Context) error {
	if s.ledger == nil {
		return nil
	}
	meta, err := s.ledger.GetSessionMeta(ctx, s.id)
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}

	s.mu.Lock()
	s.usage.Total = meta.TotalTokens
	s.usage.Queries = meta.Queries
	s.mu.Unlock()
	return nil
}
