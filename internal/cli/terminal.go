package cli

import (
	"errors"
	"strings"

	"github.com/peterh/liner"
)

// Terminal is a liner-backed LineReader with in-memory input history.
type Terminal struct {
	line *liner.State
}

// NewTerminal takes over the terminal; Ctrl-C aborts the current prompt.
// Callers must Close it to restore the terminal mode.
func NewTerminal() *Terminal {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &Terminal{line: line}
}

// Prompt reads a line and records non-empty input in the history.
func (t *Terminal) Prompt(prompt string) (string, error) {
	input, err := t.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		t.line.AppendHistory(input)
	}
	return input, nil
}

// PasswordPrompt reads without echo. When output is not a terminal (piped
// input) it falls back to a plain prompt.
func (t *Terminal) PasswordPrompt(prompt string) (string, error) {
	input, err := t.line.PasswordPrompt(prompt)
	if errors.Is(err, liner.ErrNotTerminalOutput) {
		return t.line.Prompt(prompt)
	}
	return input, err
}

func (t *Terminal) Close() error {
	return t.line.Close()
}
