package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, handle http.HandlerFunc, path string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	handle(rec, httptest.NewRequest("GET", path, nil))
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := get(t, New().Healthz, "/healthz")
	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", rec.Code, body.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	pass := func(context.Context) error { return nil }
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
			name: "all pass",
			checkers: []Checker{
				{Name: "database", Check: pass},
				{Name: "llm", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"database": "ok", "llm": "ok"},
		},
		{
			name: "one dependency down",
			checkers: []Checker{
				{Name: "database", Check: func(context.Context) error {
					return errors.New("connection refused")
				}},
				{Name: "llm", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"database": "fail: connection refused", "llm": "ok"},
		},
		{
			name: "everything down",
			checkers: []Checker{
				{Name: "database", Check: func(context.Context) error {
					return errors.New("timeout")
				}},
				{Name: "llm", Check: func(context.Context) error {
					return errors.New("no provider configured")
				}},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"database": "fail: timeout",
				"llm":      "fail: no provider configured",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, body := get(t, New(tc.checkers...).Readyz, "/readyz")
			if rec.Code != tc.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestRegister_MountsBothProbes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "database", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestReadyz_CancelledRequestFailsChecks(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the request context is gone", rec.Code)
	}
}
