package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/talkback/internal/assistant"
	"github.com/MrWong99/talkback/internal/chat"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/history"
	"github.com/MrWong99/talkback/internal/notify"
	"github.com/MrWong99/talkback/internal/server"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/normalize"
	"github.com/MrWong99/talkback/internal/speech/rules"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/provider/tts/mock"
)

type fixture struct {
	srv    *httptest.Server
	engine *mock.Engine
	orch   *session.Orchestrator
	hub    *notify.Hub
}

func newFixture(t *testing.T, a assistant.Assistant) *fixture {
	t.Helper()
	return newFixtureWithEngine(t, a, &mock.Engine{ListVoicesResult: []tts.Voice{
		{ID: "samantha", Name: "Samantha", Locale: "en-US"},
		{ID: "daniel", Name: "Daniel", Locale: "en-GB"},
	}})
}

func newFixtureWithEngine(t *testing.T, a assistant.Assistant, eng *mock.Engine) *fixture {
	t.Helper()

	hub := notify.NewHub()
	orch := session.New(eng, session.WithListener(hub.SessionListener()))
	svc := chat.New(a, history.NewMemStore(), chat.WithSpeaker(orch), chat.WithEvents(hub))

	s := server.New(svc, orch,
		server.WithVoices(eng),
		server.WithNormalizer(normalize.New(rules.Default())),
		server.WithEvents(hub),
		server.WithHealth(health.New()),
		server.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{srv: srv, engine: eng, orch: orch, hub: hub}
}

func echo() assistant.Assistant {
	return assistant.Func(func(_ context.Context, req assistant.Request) (string, error) {
		return "Hello! That's great.", nil
	})
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type apiError struct {
	Error string `json:"error"`
}

func TestSendMessage_SpeaksReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())

	var ex chat.Exchange
	if code := f.do(t, http.MethodPost, "/v1/messages", `{"text":"hi there"}`, &ex); code != http.StatusOK {
		t.Fatalf("POST /v1/messages status = %d, want 200", code)
	}
	if ex.User.Content != "hi there" || ex.Reply.Content != "Hello! That's great." {
		t.Errorf("exchange = %+v", ex)
	}
	if ex.Token == 0 {
		t.Error("reply was not spoken")
	}

	calls := f.engine.SpeakCalls()
	if len(calls) != 1 || !strings.HasPrefix(calls[0].Text, "Hey there man") {
		t.Fatalf("engine calls = %+v, want one normalized utterance", calls)
	}

	var list struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if code := f.do(t, http.MethodGet, "/v1/messages", "", &list); code != http.StatusOK {
		t.Fatalf("GET /v1/messages status = %d", code)
	}
	if len(list.Messages) != 2 || list.Messages[0].Role != "user" || list.Messages[1].Role != "assistant" {
		t.Errorf("messages = %+v", list.Messages)
	}

	f.do(t, http.MethodGet, "/v1/messages?limit=1", "", &list)
	if len(list.Messages) != 1 || list.Messages[0].Role != "assistant" {
		t.Errorf("limited messages = %+v", list.Messages)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"blank message", http.MethodPost, "/v1/messages", `{"text":"  "}`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/v1/messages", ``, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/messages", `{"txt":"hi"}`, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/messages?limit=x", ``, http.StatusBadRequest},
		{"blank speak", http.MethodPost, "/v1/speak", `{"text":""}`, http.StatusBadRequest},
		{"bad speak variant", http.MethodPost, "/v1/speak", `{"text":"hi","variant":"klingon"}`, http.StatusBadRequest},
		{"bad variant", http.MethodPut, "/v1/variant", `{"variant":"klingon"}`, http.StatusBadRequest},
		{"bad normalize variant", http.MethodPost, "/v1/normalize", `{"text":"hi","variant":"x"}`, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/v1/messages", ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, f.srv.URL+tt.path, strings.NewReader(tt.body))
			resp, err := f.srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusMethodNotAllowed {
				return
			}
			var e apiError
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("error body = %+v, %v; want {\"error\": ...}", e, err)
			}
		})
	}
}

func TestSpeakStopAndSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())

	var tok struct {
		Token uint64 `json:"token"`
	}
	if code := f.do(t, http.MethodPost, "/v1/speak", `{"text":"Mabuhay! Salamat po.","variant":"filipino"}`, &tok); code != http.StatusAccepted {
		t.Fatalf("POST /v1/speak status = %d, want 202", code)
	}
	if tok.Token == 0 {
		t.Fatal("token = 0")
	}

	var sess struct {
		State   string `json:"state"`
		Current *struct {
			Token   uint64 `json:"token"`
			Variant string `json:"variant"`
			Tier    string `json:"tier"`
		} `json:"current"`
	}
	f.do(t, http.MethodGet, "/v1/session", "", &sess)
	if sess.State != "speaking" || sess.Current == nil || sess.Current.Token != tok.Token {
		t.Fatalf("session = %+v, want speaking token %d", sess, tok.Token)
	}
	if sess.Current.Variant != "filipino" {
		t.Errorf("session variant = %q, want filipino", sess.Current.Variant)
	}

	var stop struct {
		Stopped bool `json:"stopped"`
	}
	f.do(t, http.MethodPost, "/v1/stop", "", &stop)
	if !stop.Stopped {
		t.Error("stop = false, want true")
	}
	f.do(t, http.MethodPost, "/v1/stop", "", &stop)
	if stop.Stopped {
		t.Error("second stop = true, want false")
	}

	var after struct {
		State string `json:"state"`
		Last  *struct {
			State string `json:"state"`
		} `json:"last"`
	}
	f.do(t, http.MethodGet, "/v1/session", "", &after)
	if after.State != "idle" || after.Last == nil || after.Last.State != "stopped" {
		t.Errorf("session after stop = %+v", after)
	}
}

func TestVariantAndVoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())

	var v struct {
		Variant string `json:"variant"`
		Changed bool   `json:"changed"`
	}
	f.do(t, http.MethodGet, "/v1/variant", "", &v)
	if v.Variant != "american" {
		t.Errorf("variant = %q, want american", v.Variant)
	}
	f.do(t, http.MethodPut, "/v1/variant", `{"variant":"PH"}`, &v)
	if v.Variant != "filipino" || !v.Changed {
		t.Errorf("PUT variant = %+v, want filipino changed", v)
	}

	var name struct {
		Name string `json:"name"`
	}
	f.do(t, http.MethodPut, "/v1/voice", `{"name":"  Daniel "}`, &name)
	if name.Name != "Daniel" {
		t.Errorf("voice = %q, want Daniel", name.Name)
	}
	if got := f.orch.PreferredVoice(); got != "Daniel" {
		t.Errorf("PreferredVoice = %q, want Daniel", got)
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())
	var res struct {
		Voices []tts.Voice `json:"voices"`
	}
	if code := f.do(t, http.MethodGet, "/v1/voices", "", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(res.Voices) != 2 || res.Voices[0].ID != "samantha" {
		t.Errorf("voices = %+v", res.Voices)
	}

	down := newFixtureWithEngine(t, echo(), &mock.Engine{ListVoicesErr: errors.New("engine offline")})
	var e apiError
	if code := down.do(t, http.MethodGet, "/v1/voices", "", &e); code != http.StatusBadGateway {
		t.Errorf("status with failing catalog = %d, want 502", code)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())
	var res struct {
		Variant string `json:"variant"`
		Text    string `json:"text"`
		Steps   []struct {
			Rule string `json:"rule"`
		} `json:"steps"`
	}
	if code := f.do(t, http.MethodPost, "/v1/normalize", `{"text":"Hello! That's great."}`, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.Variant != "american" || !strings.HasPrefix(res.Text, "Hey there man") {
		t.Errorf("normalize = %+v", res)
	}
	if len(res.Steps) == 0 {
		t.Error("no trace steps")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())
	var h struct {
		Status string `json:"status"`
	}
	if code := f.do(t, http.MethodGet, "/healthz", "", &h); code != http.StatusOK || h.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, h)
	}
	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echo())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var hello notify.Event
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Kind != notify.KindVariant || hello.Variant != string(speech.American) {
		t.Errorf("hello = %+v, want american variant", hello)
	}

	if code := f.do(t, http.MethodPut, "/v1/variant", `{"variant":"filipino"}`, nil); code != http.StatusOK {
		t.Fatalf("PUT variant status = %d", code)
	}
	var e notify.Event
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Kind != notify.KindVariant || e.Variant != "filipino" {
		t.Errorf("event = %+v, want filipino variant", e)
	}

	if code := f.do(t, http.MethodPost, "/v1/speak", `{"text":"ok"}`, nil); code != http.StatusAccepted {
		t.Fatalf("POST speak status = %d", code)
	}
	var states []string
	for len(states) < 2 {
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Kind == notify.KindSession {
			states = append(states, e.State)
		}
	}
	if states[0] != "requesting" || states[1] != "speaking" {
		t.Errorf("session states = %v, want [requesting speaking]", states)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
