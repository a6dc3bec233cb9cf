package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	failing := Checker{Name: "x", Check: func(context.Context) error { return errors.New("down") }}
	code, body := serve(t, New(failing), "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok regardless of checkers", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return errors.New("unreachable") }

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
			checkers:   []Checker{{Name: "a", Check: ok}, {Name: "b", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"a": "ok", "b": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "a", Check: ok}, {Name: "b", Check: bad}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"a": "ok", "b": "fail: unreachable"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(context.Context) error { time.Sleep(100 * time.Millisecond); return nil }
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	start := time.Now()
	if _, err := h.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d := time.Since(start); d > 250*time.Millisecond {
		t.Errorf("Check took %v, checkers did not run concurrently", d)
	}
}

func TestCheck_PassesDeadline(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "ctx", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})
	if _, err := h.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestCheck_CancelledContext(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "wait", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Check(ctx)
	if err == nil || !strings.Contains(err.Error(), "wait") {
		t.Errorf("err = %v, want failure naming the checker", err)
	}
}

func TestLiveProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, provider, key string
		wantErr             bool
	}{
		{"configured", "gemini-live", "k", false},
		{"no key", "gemini-live", "", true},
		{"no provider", "", "k", true},
	}
	for _, tt := range tests {
		err := LiveProvider(tt.provider, tt.key).Check(context.Background())
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()

	if err := Settings(nil).Check(context.Background()); err == nil {
		t.Error("nil validator should fail")
	}
	if err := Settings(func() error { return nil }).Check(context.Background()); err != nil {
		t.Errorf("valid settings: %v", err)
	}
	boom := errors.New("bad role")
	if err := Settings(func() error { return boom }).Check(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want validator error", err)
	}
}
