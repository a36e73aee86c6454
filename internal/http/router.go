package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// BudgetsFeature is the feature that gates the /budgets endpoints.
const BudgetsFeature = "budgets"

// RouterConfig wires handlers and cross cutting middleware into the router.
// Nil handlers leave their routes unregistered.
type RouterConfig struct {
	Auth       *AuthHandler
	Features   *FeatureHandler
	Tasks      *TaskHandler
	Expenses   *ExpenseHandler
	Budgets    *BudgetHandler
	Users      *UserHandler
	Roles      *RoleHandler
	Recurrence *RecurrenceHandler

	Tokens         TokenResolver
	FeatureChecker FeatureChecker
	Policy         Policy
	// BudgetsFeature overrides the feature name that gates budgets.
	BudgetsFeature string

	RateLimit      rate.Limit
	RateBurst      int
	RateLimitCache int

	Middleware []func(http.Handler) http.Handler
	Logger     *slog.Logger
}

// DefaultPolicy restricts administration routes to the admin role.
func DefaultPolicy() Policy {
	admin := []string{"admin"}
	return Policy{
		"GET /features":                          admin,
		"POST /features":                         admin,
		"GET /features/{id}":                     admin,
		"PUT /features/{id}":                     admin,
		"DELETE /features/{id}":                  admin,
		"PUT /features/{id}/users/{userID}":      admin,
		"DELETE /features/{id}/users/{userID}":   admin,
		"PUT /features/{id}/roles/{roleID}":      admin,
		"DELETE /features/{id}/roles/{roleID}":   admin,
		"GET /users":                             admin,
		"POST /users":                            admin,
		"PUT /users/{id}":                        admin,
		"DELETE /users/{id}":                     admin,
		"PUT /users/{id}/roles":                  admin,
		"GET /roles":                             admin,
		"POST /roles":                            admin,
		"GET /roles/{name}":                      admin,
		"PUT /roles/{name}":                      admin,
		"DELETE /roles/{name}":                   admin,
		"POST /recurrence/sweep":                 admin,
	}
}

// NewRouter builds the HTTP handler. Everything except /healthz and
// /auth/login requires a bearer token.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	logger := defaultLogger(cfg.Logger)
	responder := newResponder(logger)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusMethodNotAllowed, errorResponse{ErrorCode: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Inf
	}
	throttle, err := RateLimit(limit, cfg.RateBurst, cfg.RateLimitCache, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Auth != nil {
		login := r.PathPrefix("/auth").Subrouter()
		login.Use(throttle)
		login.HandleFunc("/login", cfg.Auth.Login).Methods(http.MethodPost)
	}

	api := r.NewRoute().Subrouter()
	api.Use(RequireToken(cfg.Tokens, logger), throttle, Authorize(cfg.Policy, logger))

	if h := cfg.Features; h != nil {
		api.HandleFunc("/me/features", h.MyFeatures).Methods(http.MethodGet)
		api.HandleFunc("/me/features/{name}", h.CheckFeature).Methods(http.MethodGet)
		api.HandleFunc("/features", h.List).Methods(http.MethodGet)
		api.HandleFunc("/features", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/features/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/features/{id}", h.Update).Methods(http.MethodPut)
		api.HandleFunc("/features/{id}", h.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/features/{id}/users/{userID}", h.SetUserFlag).Methods(http.MethodPut)
		api.HandleFunc("/features/{id}/users/{userID}", h.ResetUserFlag).Methods(http.MethodDelete)
		api.HandleFunc("/features/{id}/roles/{roleID}", h.SetRoleAccess).Methods(http.MethodPut)
		api.HandleFunc("/features/{id}/roles/{roleID}", h.ResetRoleAccess).Methods(http.MethodDelete)
	}

	if h := cfg.Tasks; h != nil {
		api.HandleFunc("/tasks", h.List).Methods(http.MethodGet)
		api.HandleFunc("/tasks", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/tasks/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/tasks/{id}", h.Update).Methods(http.MethodPut)
		api.HandleFunc("/tasks/{id}", h.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/tasks/{id}/recurrence", h.CancelRecurrence).Methods(http.MethodDelete)
		api.HandleFunc("/tasks/{id}/recurrence", h.ProcessRecurrence).Methods(http.MethodPost)
	}

	if h := cfg.Expenses; h != nil {
		api.HandleFunc("/expenses", h.List).Methods(http.MethodGet)
		api.HandleFunc("/expenses", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/expenses/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/expenses/{id}", h.Update).Methods(http.MethodPut)
		api.HandleFunc("/expenses/{id}", h.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/expenses/{id}/recurrence", h.CancelRecurrence).Methods(http.MethodDelete)
		api.HandleFunc("/expenses/{id}/recurrence", h.ProcessRecurrence).Methods(http.MethodPost)
	}

	if h := cfg.Budgets; h != nil {
		budgets := api.PathPrefix("/budgets").Subrouter()
		if cfg.FeatureChecker != nil {
			feature := cfg.BudgetsFeature
			if feature == "" {
				feature = BudgetsFeature
			}
			budgets.Use(RequireFeature(cfg.FeatureChecker, feature, logger))
		}
		budgets.HandleFunc("", h.List).Methods(http.MethodGet)
		budgets.HandleFunc("", h.Create).Methods(http.MethodPost)
		budgets.HandleFunc("/summary", h.Summary).Methods(http.MethodGet)
		budgets.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
		budgets.HandleFunc("/{id}", h.Update).Methods(http.MethodPut)
		budgets.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)
	}

	if h := cfg.Users; h != nil {
		api.HandleFunc("/me", h.Me).Methods(http.MethodGet)
		api.HandleFunc("/users", h.List).Methods(http.MethodGet)
		api.HandleFunc("/users", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/users/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/users/{id}", h.Update).Methods(http.MethodPut)
		api.HandleFunc("/users/{id}", h.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/users/{id}/roles", h.SetRoles).Methods(http.MethodPut)
	}

	if h := cfg.Roles; h != nil {
		api.HandleFunc("/roles", h.List).Methods(http.MethodGet)
		api.HandleFunc("/roles", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/roles/{name}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/roles/{name}", h.Update).Methods(http.MethodPut)
		api.HandleFunc("/roles/{name}", h.Delete).Methods(http.MethodDelete)
	}

	if h := cfg.Recurrence; h != nil {
		api.HandleFunc("/recurrence/sweep", h.Sweep).Methods(http.MethodPost)
	}

	var handler http.Handler = r
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler, nil
}
