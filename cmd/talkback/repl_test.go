package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/talkback/internal/assistant"
	"github.com/MrWong99/talkback/internal/chat"
	"github.com/MrWong99/talkback/internal/history"
	"github.com/MrWong99/talkback/internal/speech"
)

func newTestChat() *chat.Service {
	a := assistant.Func(func(_ context.Context, req assistant.Request) (string, error) {
		return "you said " + req.Text, nil
	})
	return chat.New(a, history.NewMemStore(), chat.WithAutoSpeak(false))
}

func TestRunREPL(t *testing.T) {
	t.Parallel()

	svc := newTestChat()
	in := strings.NewReader(strings.Join([]string{
		"hello there",
		"",
		"/variant ph",
		"/auto",
		"/history 2",
		"/bogus",
		"/quit",
		"never read",
	}, "\n"))
	var out bytes.Buffer

	if err := runREPL(context.Background(), in, &out, svc); err != nil {
		t.Fatalf("runREPL: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"assistant: you said hello there",
		"variant: filipino",
		"auto speak: false",
		"user: hello there",
		"assistant: you said hello there",
		"unknown command /bogus",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never read") {
		t.Errorf("input after /quit was processed:\n%s", got)
	}
	if svc.Variant() != speech.Filipino {
		t.Errorf("Variant() = %q, want %q", svc.Variant(), speech.Filipino)
	}
}

func TestHandleLine_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{"/variant klingon", "variant"},
		{"/auto maybe", "/auto takes on or off"},
		{"/history -1", "/history takes a positive number"},
		{"/speak hi", chat.ErrSpeechDisabled.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := handleLine(context.Background(), &out, newTestChat(), tt.line)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("handleLine(%q) err = %v, want containing %q", tt.line, err, tt.want)
			}
		})
	}
}

func TestHandleLine_StopWithoutSession(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := handleLine(context.Background(), &out, newTestChat(), "/stop"); err != nil {
		t.Fatalf("handleLine(/stop): %v", err)
	}
	if got := out.String(); got != "nothing to stop\n" {
		t.Errorf("output = %q, want %q", got, "nothing to stop\n")
	}
}
