package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/talkback/internal/history"
	"github.com/MrWong99/talkback/pkg/provider/tts/mock"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	New(Checker{Name: "broken", Check: failing("x")}).Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "engine", Check: ok}, {Name: "history", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"engine": "ok", "history": "ok"},
		},
		{
			name:       "required fails",
			checkers:   []Checker{{Name: "engine", Check: ok}, {Name: "history", Check: failing("connection refused")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"engine": "ok", "history": "fail: connection refused"},
		},
		{
			name:       "optional fails",
			checkers:   []Checker{{Name: "engine", Check: ok}, {Name: "nats", Check: failing("down"), Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"engine": "ok", "nats": "degraded: down"},
		},
		{
			name: "required beats optional",
			checkers: []Checker{
				{Name: "engine", Check: failing("timeout")},
				{Name: "nats", Check: failing("down"), Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"engine": "fail: timeout", "nats": "degraded: down"},
		},
		{
			name:       "nil check dropped",
			checkers:   []Checker{{Name: "nothing"}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := readyz(t, New(tt.checkers...), context.Background())
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestCheckerConstructors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if err := Catalog(&mock.Engine{}).Check(ctx); err != nil {
		t.Errorf("Catalog(healthy).Check = %v, want nil", err)
	}
	if err := Catalog(&mock.Engine{ListVoicesErr: errors.New("offline")}).Check(ctx); err == nil {
		t.Error("Catalog(offline).Check = nil, want error")
	}

	store := history.NewMemStore()
	c := Ping("history", store)
	if c.Name != "history" || c.Optional {
		t.Errorf("Ping checker = %+v", c)
	}
	if err := c.Check(ctx); err != nil {
		t.Errorf("Ping(memstore).Check = %v, want nil", err)
	}

	up := true
	conn := Connected("nats", func() bool { return up })
	if !conn.Optional {
		t.Error("Connected checker is not optional")
	}
	if err := conn.Check(ctx); err != nil {
		t.Errorf("Connected(up).Check = %v", err)
	}
	up = false
	if err := conn.Check(ctx); err == nil {
		t.Error("Connected(down).Check = nil, want error")
	}
}
