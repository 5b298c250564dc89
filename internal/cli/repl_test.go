package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/peterh/liner"
	"github.com/stretchr/testify/require"

	"hospital-query/internal/domain"
)

// scriptedReader replays canned lines, then returns io.EOF.
type scriptedReader struct {
	keys    []string
	lines   []string
	errs    map[int]error
	calls   int
	prompts []string
}

func (s *scriptedReader) Prompt(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	i := s.calls
	s.calls++
	if err, ok := s.errs[i]; ok {
		return "", err
	}
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedReader) PasswordPrompt(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.keys) == 0 {
		return "", io.EOF
	}
	k := s.keys[0]
	s.keys = s.keys[1:]
	return k, nil
}

type fakeChat struct {
	key        string
	configured bool
	handled    []string
	total      int
	onHandle   func()
}

func (f *fakeChat) Configure(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("empty")
	}
	f.key = apiKey
	f.configured = true
	return nil
}

func (f *fakeChat) Configured() bool { return f.configured }

func (f *fakeChat) Handle(_ context.Context, raw string) (domain.QueryResult, domain.Usage) {
	f.handled = append(f.handled, raw)
	if f.onHandle != nil {
		f.onHandle()
	}
	f.total += 60
	return domain.QueryResult{Response: "Visiting hours are 9 to 5.", TokensUsed: 60, Outcome: domain.OutcomeAnswered},
		domain.Usage{Last: 60, Total: f.total, Queries: len(f.handled)}
}

func run(t *testing.T, in *scriptedReader, chat *fakeChat, opts ...Option) (string, error) {
	t.Helper()
	var out bytes.Buffer
	r, err := New(in, &out, chat, opts...)
	require.NoError(t, err)
	err = r.Run(context.Background())
	return out.String(), err
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, io.Discard, &fakeChat{})
	require.Error(t, err)
	_, err = New(&scriptedReader{}, nil, &fakeChat{})
	require.Error(t, err)
	_, err = New(&scriptedReader{}, io.Discard, nil)
	require.Error(t, err)
}

func TestRun_AsksForKeyThenAnswers(t *testing.T) {
	in := &scriptedReader{keys: []string{"gsk-123"}, lines: []string{"When can I visit?", "exit"}}
	chat := &fakeChat{}
	out, err := run(t, in, chat)
	require.NoError(t, err)

	require.Equal(t, "gsk-123", chat.key)
	require.Equal(t, []string{"When can I visit?"}, chat.handled)
	require.Equal(t, apiKeyPrompt, in.prompts[0])
	require.Equal(t, userPrompt, in.prompts[1])

	require.True(t, strings.HasPrefix(out, banner+"\n"))
	require.Contains(t, out, "Assistant: Visiting hours are 9 to 5.\n")
	require.Contains(t, out, "Tokens used: 60\n")
	require.Contains(t, out, "Total tokens used: 60\n")
	require.NotContains(t, out, exitMessage)
}

func TestRun_SkipsKeyPromptWhenPreconfigured(t *testing.T) {
	in := &scriptedReader{lines: []string{"exit"}}
	_, err := run(t, in, &fakeChat{configured: true})
	require.NoError(t, err)
	require.Equal(t, []string{userPrompt}, in.prompts)
}

func TestRun_ExitIsCaseInsensitiveWholeLine(t *testing.T) {
	in := &scriptedReader{keys: []string{"k"}, lines: []string{"exit now", " exit ", "EXIT"}}
	chat := &fakeChat{}
	_, err := run(t, in, chat)
	require.NoError(t, err)
	require.Equal(t, []string{"exit now", " exit "}, chat.handled)
}

func TestRun_RunningTotalAcrossQueries(t *testing.T) {
	in := &scriptedReader{keys: []string{"k"}, lines: []string{"a", "b", "exit"}}
	out, err := run(t, in, &fakeChat{})
	require.NoError(t, err)
	require.Contains(t, out, "Total tokens used: 120\n")
}

func TestRun_EOFPrintsExitMessage(t *testing.T) {
	in := &scriptedReader{keys: []string{"k"}}
	out, err := run(t, in, &fakeChat{})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(out, exitMessage+"\n"))
}

func TestRun_CtrlCAtKeyPrompt(t *testing.T) {
	in := &scriptedReader{}
	out, err := run(t, in, &fakeChat{})
	require.NoError(t, err)
	require.Contains(t, out, exitMessage)
}

func TestRun_CtrlCAborts(t *testing.T) {
	in := &scriptedReader{keys: []string{"k"}, errs: map[int]error{0: liner.ErrPromptAborted}}
	chat := &fakeChat{}
	out, err := run(t, in, chat)
	require.NoError(t, err)
	require.Contains(t, out, exitMessage)
	require.Empty(t, chat.handled)
}

func TestRun_EmptyKeyStillRuns(t *testing.T) {
	in := &scriptedReader{keys: []string{"  "}, lines: []string{"hi", "exit"}}
	chat := &fakeChat{}
	_, err := run(t, in, chat)
	require.NoError(t, err)
	require.False(t, chat.configured)
	require.Equal(t, []string{"hi"}, chat.handled)
}

func TestRun_ReadErrorRecovers(t *testing.T) {
	in := &scriptedReader{
		keys:  []string{"k"},
		lines: []string{"hello", "exit"},
		errs:  map[int]error{0: errors.New("tty glitch")},
	}
	chat := &fakeChat{}
	out, err := run(t, in, chat)
	require.NoError(t, err)
	require.Contains(t, out, unexpectedError)
	require.Equal(t, []string{"hello"}, chat.handled)
}

func TestRun_GivesUpAfterConsecutiveErrors(t *testing.T) {
	boom := errors.New("broken pipe")
	in := &scriptedReader{keys: []string{"k"}, errs: map[int]error{0: boom, 1: boom}}
	out, err := run(t, in, &fakeChat{}, WithMaxConsecutiveErrors(2))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, strings.Count(out, unexpectedError))
}

func TestRun_CancelledContext(t *testing.T) {
	in := &scriptedReader{keys: []string{"k"}, lines: []string{"never read"}}
	var out bytes.Buffer
	r, err := New(in, &out, &fakeChat{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	require.Contains(t, out.String(), exitMessage)
	require.Len(t, in.lines, 1)
}

func TestRun_InterruptDuringQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := &scriptedReader{keys: []string{"k"}, lines: []string{"When can I visit?", "never read"}}
	chat := &fakeChat{onHandle: cancel}
	var out bytes.Buffer
	r, err := New(in, &out, chat)
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	require.Equal(t, []string{"When can I visit?"}, chat.handled)
	require.NotContains(t, out.String(), "Assistant:")
	require.True(t, strings.HasSuffix(out.String(), exitMessage+"\n"))
	require.Len(t, in.lines, 1)
}
