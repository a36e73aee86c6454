package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/logging"
)

// TokenResolver turns a bearer token into the acting principal.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (application.Principal, error)
}

// FeatureChecker reports whether a feature is enabled for a principal.
type FeatureChecker interface {
	IsEnabled(ctx context.Context, principal application.Principal, name string) (bool, error)
}

// RequireToken authenticates the request with a bearer token and stores the
// resolved principal in the request context.
func RequireToken(resolver TokenResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="taskhub"`)
				responder.writeError(ctx, w, http.StatusUnauthorized, "AUTH_TOKEN_REQUIRED", errMissingToken)
				return
			}

			principal, err := resolver.ResolveToken(ctx, token)
			if err != nil {
				switch {
				case errors.Is(err, application.ErrAccountDisabled):
					responder.handleServiceError(ctx, w, err)
				case errors.Is(err, application.ErrUnauthorized):
					w.Header().Set("WWW-Authenticate", `Bearer realm="taskhub", error="invalid_token"`)
					responder.writeError(ctx, w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", fmt.Errorf("%w: %v", errInvalidToken, err))
				default:
					responder.loggerFor(ctx).ErrorContext(ctx, "token resolution failed", "error", err)
					responder.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL", Message: "internal server error"})
				}
				return
			}

			ctx = ContextWithPrincipal(ctx, principal)
			if reqLogger := logging.FromContext(ctx); reqLogger != nil {
				ctx = logging.ContextWithLogger(ctx, reqLogger.With("principal_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Policy maps "METHOD /path/template" to the roles allowed to call it. Routes
// absent from the table are open to every authenticated principal.
type Policy map[string][]string

// Roles returns the roles required for the route, if any.
func (p Policy) Roles(method, template string) ([]string, bool) {
	roles, ok := p[method+" "+template]
	return roles, ok
}

// Authorize enforces the policy table against the matched route template.
// It must run after RequireToken.
func Authorize(policy Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := PrincipalFromContext(ctx)
			if !ok {
				responder.writeError(ctx, w, http.StatusUnauthorized, "AUTH_TOKEN_REQUIRED", errMissingToken)
				return
			}

			template := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					template = tpl
				}
			}

			roles, listed := policy.Roles(r.Method, template)
			if !listed {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if principal.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			responder.loggerFor(ctx).WarnContext(ctx, "route denied by policy", "route", r.Method+" "+template, "required_roles", roles)
			responder.handleServiceError(ctx, w, application.ErrUnauthorized)
		})
	}
}

// RequireFeature rejects requests from principals for whom feature is disabled.
func RequireFeature(checker FeatureChecker, feature string, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := PrincipalFromContext(ctx)
			if !ok {
				responder.writeError(ctx, w, http.StatusUnauthorized, "AUTH_TOKEN_REQUIRED", errMissingToken)
				return
			}

			enabled, err := checker.IsEnabled(ctx, principal, feature)
			if err != nil {
				responder.loggerFor(ctx).ErrorContext(ctx, "feature check failed", "feature", feature, "error", err)
				responder.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL", Message: "internal server error"})
				return
			}
			if !enabled {
				responder.writeError(ctx, w, http.StatusForbidden, "FEATURE_DISABLED", fmt.Errorf("%w: %s", errFeatureDisabled, feature))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies a token bucket per principal, or per client address for
// anonymous requests. At most size buckets are retained.
func RateLimit(limit rate.Limit, burst, size int, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if size <= 0 {
		size = 1024
	}
	limiters, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}
	responder := newResponder(logger)
	var mu sync.Mutex

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters.Get(key); ok {
			return l
		}
		l := rate.NewLimiter(limit, burst)
		limiters.Add(key, l)
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := clientKey(r)
			reservation := limiterFor(key).Reserve()
			if !reservation.OK() {
				responder.writeError(ctx, w, http.StatusTooManyRequests, "RATE_LIMITED", errRateLimited)
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				responder.writeError(ctx, w, http.StatusTooManyRequests, "RATE_LIMITED", errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func clientKey(r *http.Request) string {
	if principal, ok := PrincipalFromContext(r.Context()); ok && principal.UserID != "" {
		return "user:" + principal.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RequestLogger attaches a request scoped logger and logs every request with
// its status and duration.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "request completed", "status", rec.status, "duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
