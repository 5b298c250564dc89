package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/peterh/liner"

	"hospital-query/internal/domain"
)

const (
	banner          = "Welcome to the Hospital Query System. Type 'exit' to quit."
	apiKeyPrompt    = "Please enter your GROQ API key: "
	userPrompt      = "User: "
	exitCommand     = "exit"
	exitMessage     = "Exiting the application..."
	unexpectedError = "An unexpected error occurred. Please try again."

	defaultMaxConsecutiveErrors = 3
)

// LineReader reads one line of user input per call. *Terminal satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
}

// Chat is the session surface the loop drives. *session.Session satisfies it.
type Chat interface {
	Configure(apiKey string) error
	Configured() bool
	Handle(ctx context.Context, raw string) (domain.QueryResult, domain.Usage)
}

// REPL is the line-oriented query loop.
type REPL struct {
	in        LineReader
	out       io.Writer
	chat      Chat
	logger    *slog.Logger
	maxErrors int
}

type Option func(*REPL)

func WithLogger(logger *slog.Logger) Option {
	return func(r *REPL) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxConsecutiveErrors sets how many read failures in a row end the loop.
func WithMaxConsecutiveErrors(n int) Option {
	return func(r *REPL) {
		if n > 0 {
			r.maxErrors = n
		}
	}
}

func New(in LineReader, out io.Writer, chat Chat, opts ...Option) (*REPL, error) {
	if in == nil {
		return nil, errors.New("cli: line reader must not be nil")
	}
	if out == nil {
		return nil, errors.New("cli: output must not be nil")
	}
	if chat == nil {
		return nil, errors.New("cli: chat must not be nil")
	}
	r := &REPL{
		in:        in,
		out:       out,
		chat:      chat,
		logger:    slog.Default(),
		maxErrors: defaultMaxConsecutiveErrors,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run prints the banner, asks for the API key unless one is already
// configured, and answers lines until "exit", Ctrl-C, EOF or ctx ends.
func (r *REPL) Run(ctx context.Context) error {
	r.println(banner)

	if !r.chat.Configured() {
		key, err := r.in.PasswordPrompt(apiKeyPrompt)
		if err != nil {
			if isQuit(err) {
				r.println("\n" + exitMessage)
				return nil
			}
			return fmt.Errorf("cli: read api key: %w", err)
		}
		if err := r.chat.Configure(key); err != nil {
			r.logger.Warn("api key not accepted", "err", err)
		}
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			r.println("\n" + exitMessage)
			return nil
		}

		line, err := r.in.Prompt(userPrompt)
		if err != nil {
			if isQuit(err) {
				r.println("\n" + exitMessage)
				return nil
			}
			failures++
			r.logger.Error("unexpected error", "err", err)
			r.println(unexpectedError)
			if failures >= r.maxErrors {
				return fmt.Errorf("cli: giving up after %d consecutive read errors: %w", failures, err)
			}
			continue
		}
		failures = 0

		if strings.ToLower(line) == exitCommand {
			return nil
		}

		res, usage := r.chat.Handle(ctx, line)
		// Interrupted mid-call: the reply is a cancellation artifact.
		if ctx.Err() != nil {
			r.println("\n" + exitMessage)
			return nil
		}
		r.println("Assistant: " + res.Response)
		r.println(fmt.Sprintf("Tokens used: %d", res.TokensUsed))
		r.println(fmt.Sprintf("Total tokens used: %d", usage.Total))
	}
}

func (r *REPL) println(s string) {
	_, _ = fmt.Fprintln(r.out, s)
}

func isQuit(err error) bool {
	return errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF)
}
