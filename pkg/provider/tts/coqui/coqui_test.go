package coqui

import (
	"context"
	"encoding/binary"
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
)

// ---- test helpers ----

// buildTestWAV constructs a minimal but valid RIFF/WAVE byte slice containing the
// supplied raw PCM samples. It writes a standard 44-byte header (RIFF + fmt + data)
// so that parseWAV can correctly locate the audio payload.
func buildTestWAV(pcm []byte) []byte {
	// PCM WAV layout:
	//   RIFF chunk descriptor  (12 bytes)
	//   fmt  sub-chunk         (24 bytes: 8 header + 16 data)
	//   data sub-chunk         ( 8 bytes: 8 header + len(pcm) data)
	fmtSize := uint32(16)
	dataSize := uint32(len(pcm))
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize) // WAVE + fmt chunk + data chunk

	buf := make([]byte, 0, 12+8+fmtSize+8+dataSize)
	le := binary.LittleEndian

	putU32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}

	// RIFF chunk.
	buf = append(buf, []byte("RIFF")...)
	putU32(fileSize)
	buf = append(buf, []byte("WAVE")...)

	// fmt sub-chunk.
	buf = append(buf, []byte("fmt ")...)
	putU32(fmtSize)
	putU16(1)     // PCM format
	putU16(1)     // 1 channel (mono)
	putU32(16000) // sample rate
	putU32(32000) // byte rate = SampleRate * NumChannels * BitsPerSample/8
	putU16(2)     // block align
	putU16(16)    // bits per sample

	// data sub-chunk.
	buf = append(buf, []byte("data")...)
	putU32(dataSize)
	buf = append(buf, pcm...)

	return buf
}

// recordingPlayer captures played clips and optionally blocks until the
// context ends.
type recordingPlayer struct {
	mu    sync.Mutex
	clips []player.Clip
	block bool
}

func (p *recordingPlayer) Play(ctx context.Context, clip player.Clip) error {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	block := p.block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *recordingPlayer) played() []player.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]player.Clip(nil), p.clips...)
}

// outcome records which callback fired.
type outcome struct {
	kind string
	err  error
}

func callbacks() (tts.Callbacks, <-chan outcome) {
	ch := make(chan outcome, 3)
	return tts.Callbacks{
		OnDone:    func() { ch <- outcome{kind: "done"} },
		OnStopped: func() { ch <- outcome{kind: "stopped"} },
		OnError:   func(err error) { ch <- outcome{kind: "error", err: err} },
	}, ch
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no callback within 5s")
		return outcome{}
	}
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return e
}

// ---- Engine creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e := mustNew(t, "http://localhost:8002")
		if e.serverURL != "http://localhost:8002" {
			t.Errorf("serverURL = %q, want %q", e.serverURL, "http://localhost:8002")
		}
		if e.language != defaultLanguage {
			t.Errorf("language = %q, want %q", e.language, defaultLanguage)
		}
		if e.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", e.httpClient.Timeout, defaultTimeout)
		}
		if e.apiMode != APIModeStandard {
			t.Errorf("default apiMode = %q, want %q", e.apiMode, APIModeStandard)
		}
		if e.player == nil {
			t.Error("default player is nil")
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		e := mustNew(t, "http://localhost:8002/")
		if e.serverURL != "http://localhost:8002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", e.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		_, err := New("")
		if err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		e := mustNew(t, "http://localhost:8002",
			WithLanguage("de"),
			WithTimeout(5*time.Second),
			WithAPIMode(APIModeXTTS),
		)
		if e.language != "de" {
			t.Errorf("language = %q, want %q", e.language, "de")
		}
		if e.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", e.httpClient.Timeout, 5*time.Second)
		}
		if e.apiMode != APIModeXTTS {
			t.Errorf("apiMode = %q, want %q", e.apiMode, APIModeXTTS)
		}
	})
}

// ---- Speak ----

func TestSpeak_StandardAPI(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV(make([]byte, 80))

	var (
		reqMu   sync.Mutex
		gotReqs []*http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqMu.Lock()
		gotReqs = append(gotReqs, r)
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	pl := &recordingPlayer{}
	e := mustNew(t, srv.URL, WithLanguage("en"), WithPlayer(pl))
	cb, ch := callbacks()

	if err := e.Speak(context.Background(), "Hello world.", tts.Options{VoiceID: "p225", Pitch: 0.8}, cb); err != nil {
		t.Fatalf("Speak: unexpected error: %v", err)
	}
	if o := waitOutcome(t, ch); o.kind != "done" {
		t.Errorf("outcome = %+v, want done", o)
	}

	clips := pl.played()
	if len(clips) != 1 {
		t.Fatalf("played %d clips, want 1", len(clips))
	}
	if clips[0].Format != "wav" || len(clips[0].Data) != len(wavData) {
		t.Errorf("clip = %s/%d bytes, want wav/%d bytes", clips[0].Format, len(clips[0].Data), len(wavData))
	}

	reqMu.Lock()
	defer reqMu.Unlock()
	if len(gotReqs) != 1 {
		t.Fatalf("server received %d requests, want 1", len(gotReqs))
	}
	q := gotReqs[0].URL.Query()
	if got := q.Get("text"); got != "Hello world." {
		t.Errorf("query param text = %q, want %q", got, "Hello world.")
	}
	if got := q.Get("speaker_id"); got != "p225" {
		t.Errorf("query param speaker_id = %q, want %q", got, "p225")
	}
	if got := q.Get("language_id"); got != "en" {
		t.Errorf("query param language_id = %q, want %q", got, "en")
	}
}

func TestSpeak_XTTS(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV([]byte{0x42, 0x42})
	var (
		reqMu sync.Mutex
		got   []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reqMu.Lock()
		got = append(got, req)
		reqMu.Unlock()
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("en"), WithPlayer(&recordingPlayer{}))
	cb, ch := callbacks()

	if err := e.Speak(context.Background(), "Hey there man", tts.Options{}, cb); err == nil {
		t.Error("expected error for empty voice ID in XTTS mode, got nil")
	}

	if err := e.Speak(context.Background(), "Hey there man", tts.Options{VoiceID: "Claribel Dervla"}, cb); err != nil {
		t.Fatalf("Speak: unexpected error: %v", err)
	}
	if o := waitOutcome(t, ch); o.kind != "done" {
		t.Errorf("outcome = %+v, want done", o)
	}

	reqMu.Lock()
	defer reqMu.Unlock()
	want := ttsRequest{Text: "Hey there man", SpeakerWav: "Claribel Dervla", Language: "en"}
	if len(got) != 1 || got[0] != want {
		t.Errorf("requests = %+v, want [%+v]", got, want)
	}
}

func TestSpeak_SynchronousErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         int
		body           []byte
		wantPermission bool
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "unauthorized", status: http.StatusUnauthorized, wantPermission: true},
		{name: "forbidden", status: http.StatusForbidden, wantPermission: true},
		{name: "not a wav", status: http.StatusOK, body: []byte("<html>oops</html>")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			pl := &recordingPlayer{}
			e := mustNew(t, srv.URL, WithPlayer(pl))
			cb, ch := callbacks()

			err := e.Speak(context.Background(), "Hello.", tts.Options{}, cb)
			if err == nil {
				t.Fatal("Speak: expected error, got nil")
			}
			if !strings.Contains(err.Error(), "coqui:") {
				t.Errorf("error %q missing 'coqui:' prefix", err.Error())
			}
			if got := errors.Is(err, tts.ErrPermission); got != tt.wantPermission {
				t.Errorf("errors.Is(err, ErrPermission) = %v, want %v", got, tt.wantPermission)
			}
			if n := len(pl.played()); n != 0 {
				t.Errorf("played %d clips after dispatch error, want 0", n)
			}
			select {
			case o := <-ch:
				t.Errorf("callback fired after synchronous error: %+v", o)
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestSpeak_Stop(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV([]byte{0x01, 0x02})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithPlayer(&recordingPlayer{block: true}))
	cb, ch := callbacks()
	if err := e.Speak(context.Background(), "A long story.", tts.Options{}, cb); err != nil {
		t.Fatalf("Speak: unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if o := waitOutcome(t, ch); o.kind != "stopped" {
		t.Errorf("outcome = %+v, want stopped", o)
	}
}

func TestSpeak_PlaybackError(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV([]byte{0x01, 0x02})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	boom := errors.New("no audio device")
	e := mustNew(t, srv.URL, WithPlayer(player.Func(func(context.Context, player.Clip) error { return boom })))
	cb, ch := callbacks()
	if err := e.Speak(context.Background(), "Hi.", tts.Options{}, cb); err != nil {
		t.Fatalf("Speak: unexpected error: %v", err)
	}
	o := waitOutcome(t, ch)
	if o.kind != "error" || !errors.Is(o.err, boom) {
		t.Errorf("outcome = %+v, want error wrapping %v", o, boom)
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	rawResp := map[string]any{
		"speaker_bob":   map[string]any{"type": "studio"},
		"speaker_alice": map[string]any{"type": "studio"},
	}
	data, _ := json.Marshal(rawResp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithPlayer(&recordingPlayer{}))
	voices, err := e.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}

	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	// Sorted order: alice before bob.
	if voices[0].ID != "speaker_alice" {
		t.Errorf("voices[0].ID = %q, want %q", voices[0].ID, "speaker_alice")
	}
	if voices[1].ID != "speaker_bob" {
		t.Errorf("voices[1].ID = %q, want %q", voices[1].ID, "speaker_bob")
	}
	for _, v := range voices {
		if v.Locale != "en" || v.Quality != voiceQuality {
			t.Errorf("voice %q = %+v, want locale en and quality %q", v.ID, v, voiceQuality)
		}
	}
}

func TestListVoices_StandardAPI(t *testing.T) {
	t.Parallel()

	serve := func(t *testing.T, details detailsResponse) *httptest.Server {
		t.Helper()
		data, _ := json.Marshal(details)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != detailsEndpoint {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("multi-speaker model", func(t *testing.T) {
		t.Parallel()

		srv := serve(t, detailsResponse{
			ModelName: "tts_models/en/vctk/vits",
			Language:  "en-GB",
			Speakers:  []string{"p227", "p225", "p226"},
		})
		e := mustNew(t, srv.URL, WithPlayer(&recordingPlayer{}))
		voices, err := e.ListVoices(context.Background())
		if err != nil {
			t.Fatalf("ListVoices: %v", err)
		}

		wantIDs := []string{"p225", "p226", "p227"}
		if len(voices) != len(wantIDs) {
			t.Fatalf("got %d voices, want %d", len(voices), len(wantIDs))
		}
		for i, v := range voices {
			if v.ID != wantIDs[i] {
				t.Errorf("voices[%d].ID = %q, want %q", i, v.ID, wantIDs[i])
			}
			if v.Locale != "en-GB" {
				t.Errorf("voices[%d].Locale = %q, want %q", i, v.Locale, "en-GB")
			}
		}
	})

	t.Run("single-speaker model", func(t *testing.T) {
		t.Parallel()

		srv := serve(t, detailsResponse{ModelName: "tts_models/en/ljspeech/vits"})
		e := mustNew(t, srv.URL, WithLanguage("en"), WithPlayer(&recordingPlayer{}))
		voices, err := e.ListVoices(context.Background())
		if err != nil {
			t.Fatalf("ListVoices: %v", err)
		}
		if len(voices) != 1 {
			t.Fatalf("got %d voices, want 1", len(voices))
		}
		if voices[0].ID != "tts_models/en/ljspeech/vits" {
			t.Errorf("voices[0].ID = %q, want model name", voices[0].ID)
		}
		if voices[0].Locale != "en" {
			t.Errorf("voices[0].Locale = %q, want configured language", voices[0].Locale)
		}
	})
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithPlayer(&recordingPlayer{}))
	_, err := e.ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err.Error())
	}
}

func TestListVoices_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithPlayer(&recordingPlayer{}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := e.ListVoices(ctx); err == nil {
		t.Fatal("expected error on context timeout, got nil")
	}
}

// ---- parseWAV ----

func TestParseWAV(t *testing.T) {
	t.Run("valid WAV", func(t *testing.T) {
		pcm := []byte{0x01, 0x02, 0x03, 0x04}
		wav := buildTestWAV(pcm)
		info, err := parseWAV(wav)
		if err != nil {
			t.Fatalf("parseWAV: %v", err)
		}
		if info.DataOffset != len(wav)-len(pcm) {
			t.Errorf("offset = %d, want %d", info.DataOffset, len(wav)-len(pcm))
		}
		if info.SampleRate != 16000 || info.Channels != 1 {
			t.Errorf("format = %d Hz/%d ch, want 16000 Hz/1 ch", info.SampleRate, info.Channels)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := parseWAV([]byte{0x01, 0x02}); err == nil {
			t.Fatal("expected error for short input")
		}
	})

	t.Run("not RIFF", func(t *testing.T) {
		buf := make([]byte, 44)
		copy(buf, "XXXX")
		if _, err := parseWAV(buf); err == nil {
			t.Fatal("expected error for non-RIFF header")
		}
	})

	t.Run("not WAVE", func(t *testing.T) {
		buf := make([]byte, 44)
		copy(buf, "RIFF")
		copy(buf[8:], "XXXX")
		if _, err := parseWAV(buf); err == nil {
			t.Fatal("expected error for non-WAVE identifier")
		}
	})

	t.Run("no data chunk", func(t *testing.T) {
		var buf []byte
		buf = append(buf, []byte("RIFF")...)
		buf = append(buf, 0, 0, 0, 0) // size placeholder
		buf = append(buf, []byte("WAVE")...)
		buf = append(buf, []byte("fmt ")...)
		buf = append(buf, 4, 0, 0, 0) // chunk size 4
		buf = append(buf, 0, 0, 0, 0) // dummy fmt data
		if _, err := parseWAV(buf); err == nil {
			t.Fatal("expected error when data chunk is absent")
		}
	})
}
