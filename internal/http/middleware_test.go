package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/logging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubResolver struct {
	principals map[string]application.Principal
	err        error
}

func (s stubResolver) ResolveToken(_ context.Context, token string) (application.Principal, error) {
	if s.err != nil {
		return application.Principal{}, s.err
	}
	principal, ok := s.principals[token]
	if !ok {
		return application.Principal{}, application.ErrUnauthorized
	}
	return principal, nil
}

type stubChecker struct {
	enabled map[string]bool
	err     error
}

func (s stubChecker) IsEnabled(_ context.Context, principal application.Principal, name string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.enabled[principal.UserID+"/"+name], nil
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	w.Header().Set("X-Principal", principal.UserID)
	w.WriteHeader(http.StatusOK)
}

func withPrincipal(principal application.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestRequireToken(t *testing.T) {
	t.Parallel()

	resolver := stubResolver{principals: map[string]application.Principal{
		"good": {UserID: "alice"},
	}}

	tests := []struct {
		name     string
		resolver TokenResolver
		header   string
		status   int
		code     string
	}{
		{name: "missing header", resolver: resolver, status: http.StatusUnauthorized, code: "AUTH_TOKEN_REQUIRED"},
		{name: "wrong scheme", resolver: resolver, header: "Basic Zm9vOmJhcg==", status: http.StatusUnauthorized, code: "AUTH_TOKEN_REQUIRED"},
		{name: "unknown token", resolver: resolver, header: "Bearer nope", status: http.StatusUnauthorized, code: "AUTH_TOKEN_INVALID"},
		{name: "disabled account", resolver: stubResolver{err: application.ErrAccountDisabled}, header: "Bearer good", status: http.StatusForbidden, code: "AUTH_ACCOUNT_DISABLED"},
		{name: "store failure", resolver: stubResolver{err: errors.New("boom")}, header: "Bearer good", status: http.StatusInternalServerError, code: "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := RequireToken(tt.resolver, discardLogger())(http.HandlerFunc(okHandler))

			req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if body := decodeErrorBody(t, rec); body.ErrorCode != tt.code {
				t.Fatalf("expected code %s, got %+v", tt.code, body)
			}
		})
	}

	t.Run("valid token exposes the principal", func(t *testing.T) {
		t.Parallel()
		handler := RequireToken(resolver, discardLogger())(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("Authorization", "bearer good")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get("X-Principal"); got != "alice" {
			t.Fatalf("expected principal alice, got %q", got)
		}
	})
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	policy := Policy{
		"DELETE /features/{id}": {"admin"},
		"GET /reports":          {"auditor", "admin"},
	}
	newRouter := func(principal application.Principal) http.Handler {
		r := mux.NewRouter()
		r.Use(withPrincipal(principal), Authorize(policy, discardLogger()))
		r.HandleFunc("/features/{id}", okHandler).Methods(http.MethodGet, http.MethodDelete)
		r.HandleFunc("/reports", okHandler).Methods(http.MethodGet)
		return r
	}

	tests := []struct {
		name      string
		principal application.Principal
		method    string
		path      string
		status    int
	}{
		{"admin may delete", application.Principal{UserID: "root", Roles: []string{"admin"}}, http.MethodDelete, "/features/f-1", http.StatusOK},
		{"member may not delete", application.Principal{UserID: "alice", Roles: []string{"beta"}}, http.MethodDelete, "/features/f-1", http.StatusForbidden},
		{"unlisted route is open", application.Principal{UserID: "alice"}, http.MethodGet, "/features/f-1", http.StatusOK},
		{"any listed role suffices", application.Principal{UserID: "carol", Roles: []string{"auditor"}}, http.MethodGet, "/reports", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			newRouter(tt.principal).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}

	t.Run("missing principal is rejected", func(t *testing.T) {
		t.Parallel()
		handler := Authorize(policy, discardLogger())(http.HandlerFunc(okHandler))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRequireFeature(t *testing.T) {
	t.Parallel()

	checker := stubChecker{enabled: map[string]bool{"alice/budgets": true}}
	tests := []struct {
		name      string
		checker   FeatureChecker
		principal application.Principal
		status    int
	}{
		{"enabled", checker, application.Principal{UserID: "alice"}, http.StatusOK},
		{"disabled", checker, application.Principal{UserID: "bob"}, http.StatusForbidden},
		{"checker failure", stubChecker{err: errors.New("store down")}, application.Principal{UserID: "alice"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := withPrincipal(tt.principal)(RequireFeature(tt.checker, "budgets", discardLogger())(http.HandlerFunc(okHandler)))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/budgets", nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if tt.status == http.StatusForbidden {
				if body := decodeErrorBody(t, rec); body.ErrorCode != "FEATURE_DISABLED" {
					t.Fatalf("expected FEATURE_DISABLED, got %+v", body)
				}
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	throttle, err := RateLimit(rate.Every(time.Hour), 1, 16, discardLogger())
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}

	serve := func(principal application.Principal) *httptest.ResponseRecorder {
		handler := withPrincipal(principal)(throttle(http.HandlerFunc(okHandler)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
		return rec
	}

	alice := application.Principal{UserID: "alice"}
	if rec := serve(alice); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec := serve(alice)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	if rec := serve(application.Principal{UserID: "bob"}); rec.Code != http.StatusOK {
		t.Fatalf("expected other principals to keep their own budget, got %d", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.FromContext(r.Context()) == nil {
			t.Error("expected request logger in context")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := buf.String()
	for _, want := range []string{`"request_id":1`, `"status":418`, `"path":"/healthz"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output, got %s", want, out)
		}
	}
}
