package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/audio/player"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/provider/tts/openai"
)

// speechServer fakes POST /audio/speech and records request bodies.
type speechServer struct {
	*httptest.Server
	status int

	mu     sync.Mutex
	bodies []map[string]any
}

func newSpeechServer(t *testing.T, status int) *speechServer {
	t.Helper()
	s := &speechServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()

		if s.status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF....WAVEfake"))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *speechServer) requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.bodies...)
}

func newEngine(t *testing.T, baseURL string, pl player.Player) *openai.Engine {
	t.Helper()
	e, err := openai.New("sk-test", "", openai.WithBaseURL(baseURL+"/v1/"), openai.WithPlayer(pl))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := openai.New("", "tts-1"); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	e := newEngine(t, "http://localhost", player.Func(func(context.Context, player.Clip) error { return nil }))
	voices, err := e.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) == 0 {
		t.Fatal("ListVoices returned no voices")
	}
	voices[0].Name = "mutated"
	again, _ := e.ListVoices(context.Background())
	if again[0].Name == "mutated" {
		t.Error("ListVoices returned shared catalogue slice")
	}
}

func TestSpeak(t *testing.T) {
	t.Parallel()

	srv := newSpeechServer(t, http.StatusOK)
	played := make(chan player.Clip, 1)
	e := newEngine(t, srv.URL, player.Func(func(_ context.Context, c player.Clip) error {
		played <- c
		return nil
	}))

	done := make(chan struct{})
	cb := tts.Callbacks{OnDone: func() { close(done) }}
	if err := e.Speak(context.Background(), "Hey there man!", tts.Options{VoiceID: "echo", Rate: 0.85}, cb); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("OnDone not called")
	}
	clip := <-played
	if clip.Format != "wav" || string(clip.Data) != "RIFF....WAVEfake" {
		t.Errorf("played clip = %s %q", clip.Format, clip.Data)
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("server received %d requests, want 1", len(reqs))
	}
	body := reqs[0]
	want := map[string]any{
		"input":           "Hey there man!",
		"voice":           "echo",
		"model":           openai.DefaultModel,
		"response_format": "wav",
		"speed":           0.85,
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("request %s = %v, want %v", k, body[k], v)
		}
	}
}

func TestSpeak_DefaultVoice(t *testing.T) {
	t.Parallel()

	srv := newSpeechServer(t, http.StatusOK)
	e := newEngine(t, srv.URL, player.Func(func(context.Context, player.Clip) error { return nil }))

	if err := e.Speak(context.Background(), "Hi", tts.Options{}, tts.Callbacks{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	body := srv.requests()[0]
	if body["voice"] != "onyx" {
		t.Errorf("voice = %v, want onyx", body["voice"])
	}
	if _, ok := body["speed"]; ok {
		t.Errorf("speed = %v, want omitted for zero rate", body["speed"])
	}
}

func TestSpeak_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         int
		wantPermission bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantPermission: true},
		{name: "forbidden", status: http.StatusForbidden, wantPermission: true},
		{name: "bad request", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newSpeechServer(t, tt.status)
			e := newEngine(t, srv.URL, player.Func(func(context.Context, player.Clip) error { return nil }))

			called := make(chan struct{}, 3)
			cb := tts.Callbacks{
				OnDone:    func() { called <- struct{}{} },
				OnStopped: func() { called <- struct{}{} },
				OnError:   func(error) { called <- struct{}{} },
			}
			err := e.Speak(context.Background(), "Hi", tts.Options{VoiceID: "echo"}, cb)
			if err == nil {
				t.Fatal("Speak: expected error, got nil")
			}
			if got := errors.Is(err, tts.ErrPermission); got != tt.wantPermission {
				t.Errorf("errors.Is(err, ErrPermission) = %v, want %v (err: %v)", got, tt.wantPermission, err)
			}
			select {
			case <-called:
				t.Error("callback fired after synchronous error")
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	t.Parallel()

	e := newEngine(t, "http://localhost", player.Func(func(context.Context, player.Clip) error { return nil }))
	if err := e.Speak(context.Background(), " ", tts.Options{}, tts.Callbacks{}); err == nil {
		t.Error("Speak(blank): expected error, got nil")
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	srv := newSpeechServer(t, http.StatusOK)
	e := newEngine(t, srv.URL, player.Func(func(ctx context.Context, _ player.Clip) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	stopped := make(chan struct{})
	if err := e.Speak(context.Background(), "A long story", tts.Options{}, tts.Callbacks{OnStopped: func() { close(stopped) }}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("OnStopped not called")
	}
}
