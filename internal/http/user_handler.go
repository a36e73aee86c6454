package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/persistence"
)

type userService interface {
	CreateUser(ctx context.Context, params application.CreateUserParams) (persistence.User, error)
	UpdateUser(ctx context.Context, params application.UpdateUserParams) (persistence.User, error)
	GetUser(ctx context.Context, principal application.Principal, userID string) (persistence.User, error)
	DeleteUser(ctx context.Context, principal application.Principal, userID string) error
	ListUsers(ctx context.Context, principal application.Principal) ([]persistence.User, error)
	SetUserRoles(ctx context.Context, principal application.Principal, userID string, roles []string) ([]string, error)
}

// UserHandler serves the /users endpoints.
type UserHandler struct {
	service   userService
	responder responder
	logger    *slog.Logger
}

func NewUserHandler(service userService, logger *slog.Logger) *UserHandler {
	logger = defaultLogger(logger)
	return &UserHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	users, err := h.service.ListUsers(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]userDTO, 0, len(users))
	for _, user := range users {
		dtos = append(dtos, toUserDTO(user))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listUsersResponse{Users: dtos})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTO(user))
}

// Me returns the caller's own account.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), principal, principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTO(user))
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req createUserRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.CreateUser(r.Context(), application.CreateUserParams{
		Principal: principal,
		Input: application.UserInput{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Password:    req.Password,
			IsActive:    req.IsActive,
			Roles:       req.Roles,
		},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "UserHandler", "Create", "user_id", user.ID).InfoContext(r.Context(), "user created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toUserDTO(user))
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req updateUserRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.UpdateUser(r.Context(), application.UpdateUserParams{
		Principal: principal,
		UserID:    pathParam(r, "id"),
		Input: application.UserInput{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Password:    req.Password,
			IsActive:    req.IsActive,
			Roles:       req.Roles,
		},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toUserDTO(user))
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	userID := pathParam(r, "id")
	if err := h.service.DeleteUser(r.Context(), principal, userID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "UserHandler", "Delete", "user_id", userID).InfoContext(r.Context(), "user deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// SetRoles handles PUT /users/{id}/roles and replaces every membership.
func (h *UserHandler) SetRoles(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req userRolesRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	roles, err := h.service.SetUserRoles(r.Context(), principal, pathParam(r, "id"), req.Roles)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if roles == nil {
		roles = []string{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userRolesResponse{Roles: roles})
}

type createUserRequest struct {
	Email       string   `json:"email" validate:"required,email,max=254"`
	DisplayName string   `json:"display_name" validate:"required,max=100"`
	Password    string   `json:"password" validate:"required,min=8,max=256"`
	IsActive    *bool    `json:"is_active"`
	Roles       []string `json:"roles" validate:"max=20,dive,required,max=64"`
}

type updateUserRequest struct {
	Email       string   `json:"email" validate:"required,email,max=254"`
	DisplayName string   `json:"display_name" validate:"required,max=100"`
	Password    string   `json:"password" validate:"omitempty,min=8,max=256"`
	IsActive    *bool    `json:"is_active"`
	Roles       []string `json:"roles" validate:"omitempty,max=20,dive,required,max=64"`
}

type userRolesRequest struct {
	Roles []string `json:"roles" validate:"max=20,dive,required,max=64"`
}

type userRolesResponse struct {
	Roles []string `json:"roles"`
}

type userDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type listUsersResponse struct {
	Users []userDTO `json:"users"`
}

func toUserDTO(user persistence.User) userDTO {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return userDTO{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsActive:    user.IsActive,
		Roles:       roles,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}
