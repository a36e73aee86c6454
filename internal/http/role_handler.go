package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/persistence"
)

type roleService interface {
	CreateRole(ctx context.Context, principal application.Principal, input application.RoleInput) (persistence.Role, error)
	UpdateRole(ctx context.Context, principal application.Principal, name string, input application.RoleInput) (persistence.Role, error)
	GetRole(ctx context.Context, principal application.Principal, name string) (persistence.Role, error)
	ListRoles(ctx context.Context, principal application.Principal) ([]persistence.Role, error)
	DeleteRole(ctx context.Context, principal application.Principal, name string) error
}

// RoleHandler serves the /roles endpoints. Roles are addressed by name.
type RoleHandler struct {
	service   roleService
	responder responder
}

func NewRoleHandler(service roleService, logger *slog.Logger) *RoleHandler {
	return &RoleHandler{service: service, responder: newResponder(logger)}
}

func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	roles, err := h.service.ListRoles(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]roleDTO, 0, len(roles))
	for _, role := range roles {
		dtos = append(dtos, roleDTO(role))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRolesResponse{Roles: dtos})
}

func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	role, err := h.service.GetRole(r.Context(), principal, pathParam(r, "name"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, roleDTO(role))
}

func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req roleRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	role, err := h.service.CreateRole(r.Context(), principal, application.RoleInput{Name: req.Name, Description: req.Description})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, roleDTO(role))
}

func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req roleUpdateRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	role, err := h.service.UpdateRole(r.Context(), principal, pathParam(r, "name"), application.RoleInput{Description: req.Description})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, roleDTO(role))
}

func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteRole(r.Context(), principal, pathParam(r, "name")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type roleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=500"`
}

type roleUpdateRequest struct {
	Description string `json:"description" validate:"max=500"`
}

type roleDTO struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type listRolesResponse struct {
	Roles []roleDTO `json:"roles"`
}
