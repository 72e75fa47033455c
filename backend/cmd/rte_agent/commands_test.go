package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"rteSync/backend/internal/replica"
	"rteSync/backend/internal/richtext"
	"rteSync/backend/internal/session"
	"rteSync/backend/internal/ws"
)

type offlineTransport struct{}

func (offlineTransport) Send(ws.Frame) bool { return false }
func (offlineTransport) Close()             {}

func newOfflineSession(t *testing.T, text string) *session.Session {
	t.Helper()
	s, err := session.New(context.Background(), session.Options{
		Room:    "agent-test",
		Initial: richtext.FromText(text),
		Dial: func(func(replica.Status), func(ws.Frame)) (session.Transport, error) {
			return offlineTransport{}, nil
		},
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestRunCommand_Script(t *testing.T) {
	ctx := context.Background()
	s := newOfflineSession(t, "world")
	var out bytes.Buffer

	for _, line := range []string{
		"insert 1 hello  ",
		"insert 6  there ",
		"",
		"bold 1 6",
		"mark 11 16 emphasis",
		"unmark 1 3 strong",
		"delete 6 11",
		"select 1 3",
		"print",
	} {
		if _, err := runCommand(ctx, s, line, &out); err != nil {
			t.Fatalf("runCommand(%q) error = %v", line, err)
		}
	}
	assert.Equal(t, `"he{strong}llo{emphasis}world" Selection(1,3) [disconnected]`+"\n", out.String())

	quit, err := runCommand(ctx, s, "quit", &out)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, quit)
}

func TestRunCommand_Errors(t *testing.T) {
	ctx := context.Background()
	s := newOfflineSession(t, "abc")
	var out bytes.Buffer

	tests := map[string]error{
		"jump 1 2":       ErrUnknownCommand,
		"delete 1":       ErrBadArguments,
		"insert x hi":    ErrBadArguments,
		"mark 1 2":       ErrBadArguments,
		"delete 1 99":    richtext.ErrRangeOutOfBounds,
		"select one two": ErrBadArguments,
	}
	for line, want := range tests {
		if _, err := runCommand(ctx, s, line, &out); !errors.Is(err, want) {
			t.Fatalf("runCommand(%q) error = %v, want %v", line, err, want)
		}
	}
	st, _ := s.Snapshot(ctx)
	assert.Equal(t, "abc", st.Doc().Text())
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"--room=doc-1", "--text=hi"})
	assert.Equal(t, nil, err)
	room, _ := opts.String("--room")
	assert.Equal(t, "doc-1", room)
	text, _ := opts.String("--text")
	assert.Equal(t, "hi", text)

	// 缺少必填参数或多余参数都返回错误，不退出进程
	_, err = parseArgs([]string{"--text=hi"})
	if err == nil {
		t.Fatalf("parseArgs() without --room succeeded")
	}
	_, err = parseArgs([]string{"--room=r", "--bogus"})
	if err == nil {
		t.Fatalf("parseArgs() with unknown flag succeeded")
	}
}
