package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/logging"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequestBody  = errors.New("request body is not valid JSON")
	errMissingToken    = errors.New("bearer token is required")
	errInvalidToken    = errors.New("token is invalid or expired")
	errFeatureDisabled = errors.New("feature is not enabled for this account")
	errRateLimited     = errors.New("too many requests")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

// handleServiceError maps application sentinels onto HTTP statuses. Messages
// of unexpected errors are not echoed to clients.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "input is invalid",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, application.ErrInvalidCredentials):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_INVALID_CREDENTIALS", Message: "email or password is incorrect"})
	case errors.Is(err, application.ErrAccountDisabled):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{ErrorCode: "AUTH_ACCOUNT_DISABLED", Message: "account is disabled"})
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{ErrorCode: "AUTH_FORBIDDEN", Message: "you are not allowed to perform this operation"})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "resource not found"})
	case errors.Is(err, application.ErrAlreadyExists):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "ALREADY_EXISTS", Message: "resource already exists"})
	case errors.Is(err, application.ErrConflict):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "CONFLICT", Message: "request conflicts with the current state of the resource"})
	case errors.Is(err, context.Canceled):
		r.writeJSON(ctx, w, statusClientClosedRequest, errorResponse{ErrorCode: "CANCELLED", Message: "request cancelled"})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL", Message: "internal server error"})
	}
}

// statusClientClosedRequest is the de facto status for requests abandoned by the client.
const statusClientClosedRequest = 499

// decode reads a JSON body into dst and validates its struct tags. A false
// return means a response has already been written.
func (r responder) decode(w http.ResponseWriter, req *http.Request, dst any) bool {
	ctx := req.Context()
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		r.writeError(ctx, w, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("%w: %v", errBadRequestBody, err))
		return false
	}
	if vErr := validateRequest(dst); vErr != nil {
		r.handleServiceError(ctx, w, vErr)
		return false
	}
	return true
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
