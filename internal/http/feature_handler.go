package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/featureflag"
)

type featureService interface {
	CreateFeature(ctx context.Context, params application.CreateFeatureParams) (featureflag.Definition, error)
	UpdateFeature(ctx context.Context, params application.UpdateFeatureParams) (featureflag.Definition, error)
	GetFeature(ctx context.Context, principal application.Principal, featureID string) (featureflag.Definition, error)
	ListFeatures(ctx context.Context, principal application.Principal) ([]featureflag.Definition, error)
	DeleteFeature(ctx context.Context, principal application.Principal, featureID string) error
	SetUserFlag(ctx context.Context, params application.OverrideParams) (featureflag.UserFlag, error)
	ResetUserFlag(ctx context.Context, principal application.Principal, featureID, userID string) error
	SetRoleAccess(ctx context.Context, params application.OverrideParams) (featureflag.RoleAccess, error)
	ResetRoleAccess(ctx context.Context, principal application.Principal, featureID, role string) error
	Check(ctx context.Context, principal application.Principal, name string) (application.FeatureStatus, error)
	MyFeatures(ctx context.Context, principal application.Principal) ([]string, error)
}

// FeatureHandler serves feature administration and the caller's own
// feature checks.
type FeatureHandler struct {
	service   featureService
	responder responder
	logger    *slog.Logger
}

func NewFeatureHandler(service featureService, logger *slog.Logger) *FeatureHandler {
	logger = defaultLogger(logger)
	return &FeatureHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *FeatureHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "FeatureHandler", operation, attrs...)
}

func (h *FeatureHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req featureRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	def, err := h.service.CreateFeature(r.Context(), application.CreateFeatureParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Create", "feature_id", def.ID, "feature", def.Name).InfoContext(r.Context(), "feature created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toFeatureDTO(def))
}

func (h *FeatureHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	def, err := h.service.GetFeature(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toFeatureDTO(def))
}

func (h *FeatureHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	defs, err := h.service.ListFeatures(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]featureDTO, 0, len(defs))
	for _, def := range defs {
		dtos = append(dtos, toFeatureDTO(def))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listFeaturesResponse{Features: dtos})
}

func (h *FeatureHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req featureRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	def, err := h.service.UpdateFeature(r.Context(), application.UpdateFeatureParams{
		Principal: principal,
		FeatureID: pathParam(r, "id"),
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toFeatureDTO(def))
}

func (h *FeatureHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	featureID := pathParam(r, "id")
	if err := h.service.DeleteFeature(r.Context(), principal, featureID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Delete", "feature_id", featureID).InfoContext(r.Context(), "feature deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// SetUserFlag handles PUT /features/{id}/users/{userID}.
func (h *FeatureHandler) SetUserFlag(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req overrideRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	flag, err := h.service.SetUserFlag(r.Context(), application.OverrideParams{
		Principal: principal,
		FeatureID: pathParam(r, "id"),
		Subject:   pathParam(r, "userID"),
		Enabled:   *req.Enabled,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userFlagDTO{
		FeatureID: flag.FeatureID,
		UserID:    flag.UserID,
		Enabled:   flag.IsEnabled,
		UpdatedAt: flag.UpdatedAt,
	})
}

// ResetUserFlag handles DELETE /features/{id}/users/{userID}.
func (h *FeatureHandler) ResetUserFlag(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.ResetUserFlag(r.Context(), principal, pathParam(r, "id"), pathParam(r, "userID")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// SetRoleAccess handles PUT /features/{id}/roles/{roleID}.
func (h *FeatureHandler) SetRoleAccess(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req overrideRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	access, err := h.service.SetRoleAccess(r.Context(), application.OverrideParams{
		Principal: principal,
		FeatureID: pathParam(r, "id"),
		Subject:   pathParam(r, "roleID"),
		Enabled:   *req.Enabled,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, roleAccessDTO{
		FeatureID: access.FeatureID,
		Role:      access.Role,
		Enabled:   access.IsEnabled,
		UpdatedAt: access.UpdatedAt,
	})
}

// ResetRoleAccess handles DELETE /features/{id}/roles/{roleID}.
func (h *FeatureHandler) ResetRoleAccess(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.ResetRoleAccess(r.Context(), principal, pathParam(r, "id"), pathParam(r, "roleID")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// MyFeatures handles GET /me/features.
func (h *FeatureHandler) MyFeatures(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	names, err := h.service.MyFeatures(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, myFeaturesResponse{Features: names})
}

// CheckFeature handles GET /me/features/{name}. Unknown features report
// disabled rather than 404.
func (h *FeatureHandler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	status, err := h.service.Check(r.Context(), principal, pathParam(r, "name"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, featureStatusDTO{
		Name:    status.Name,
		Enabled: status.Enabled,
		Source:  string(status.Source),
	})
}

type featureRequest struct {
	Name             string     `json:"name" validate:"required,max=100"`
	Description      string     `json:"description" validate:"max=1000"`
	EnabledByDefault bool       `json:"enabled_by_default"`
	AvailableFrom    *time.Time `json:"available_from"`
	AvailableUntil   *time.Time `json:"available_until"`
}

func (r featureRequest) toInput() application.FeatureInput {
	return application.FeatureInput{
		Name:             r.Name,
		Description:      r.Description,
		EnabledByDefault: r.EnabledByDefault,
		AvailableFrom:    r.AvailableFrom,
		AvailableUntil:   r.AvailableUntil,
	}
}

type overrideRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type featureDTO struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	EnabledByDefault bool       `json:"enabled_by_default"`
	AvailableFrom    *time.Time `json:"available_from,omitempty"`
	AvailableUntil   *time.Time `json:"available_until,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type listFeaturesResponse struct {
	Features []featureDTO `json:"features"`
}

func toFeatureDTO(def featureflag.Definition) featureDTO {
	return featureDTO(def)
}

type userFlagDTO struct {
	FeatureID string    `json:"feature_id"`
	UserID    string    `json:"user_id"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type roleAccessDTO struct {
	FeatureID string    `json:"feature_id"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type myFeaturesResponse struct {
	Features []string `json:"features"`
}

type featureStatusDTO struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Source  string `json:"source"`
}
