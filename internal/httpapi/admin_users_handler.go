package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio_gateway/internal/auth"
	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

// AdminUsersHandler handles account management endpoints
type AdminUsersHandler struct {
	auth          *auth.Service
	users         *storage.UserRepository
	adminUsername string
	logger        *logging.Logger
}

// NewAdminUsersHandler creates a new admin users handler. adminUsername names
// the default admin, which cannot be deleted.
func NewAdminUsersHandler(svc *auth.Service, users *storage.UserRepository, adminUsername string) *AdminUsersHandler {
	return &AdminUsersHandler{
		auth:          svc,
		users:         users,
		adminUsername: adminUsername,
		logger:        logging.NewLogger("admin-users"),
	}
}

// CreateUserRequest is the body of POST /api/admin/users
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// List handles GET /api/admin/users
func (h *AdminUsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list users", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, users)
}

// Get handles GET /api/admin/users/{username}
func (h *AdminUsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user)
}

// Create handles POST /api/admin/users
func (h *AdminUsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	role := auth.RoleUser
	if req.Role != "" {
		parsed, ok := auth.ParseRole(req.Role)
		if !ok {
			utils.RespondWithError(w, http.StatusBadRequest, auth.ErrInvalidRole.Error())
			return
		}
		role = parsed
	}

	user, err := h.auth.CreateUser(r.Context(), req.Username, req.Password, role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameRequired),
			errors.Is(err, auth.ErrPasswordTooShort),
			errors.Is(err, auth.ErrUsernameTaken):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Failed to create user", "username", req.Username, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	h.logger.Info("User created", "username", user.Username, "role", user.Role)
	utils.RespondWithJSON(w, http.StatusCreated, user)
}

// Update handles PUT /api/admin/users/{username}
func (h *AdminUsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd models.UserUpdate
	if !decodeBody(w, r, &upd) {
		return
	}

	if upd.Role != nil {
		role, ok := auth.ParseRole(*upd.Role)
		if !ok {
			utils.RespondWithError(w, http.StatusBadRequest, auth.ErrInvalidRole.Error())
			return
		}
		normalized := role.String()
		upd.Role = &normalized
	}
	if upd.Status != nil && !models.ValidUserStatus(*upd.Status) {
		utils.RespondWithError(w, http.StatusBadRequest, "status must be active, inactive or suspended")
		return
	}

	user, ok := h.lookup(w, r)
	if !ok {
		return
	}

	updated, err := h.users.Update(r.Context(), user.ID, &upd)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to update user", "username", user.Username, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/admin/users/{username}
func (h *AdminUsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "username") == h.adminUsername {
		utils.RespondWithError(w, http.StatusBadRequest, "Cannot delete default admin")
		return
	}

	user, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), user.ID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to delete user", "username", user.Username, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	h.logger.Info("User deleted", "username", user.Username)
	utils.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *AdminUsersHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	username := chi.URLParam(r, "username")
	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return nil, false
		}
		h.logger.Error("Failed to get user", "username", username, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get user")
		return nil, false
	}
	return user, true
}
