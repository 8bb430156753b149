package httpapi

import (
	"errors"
	"net/http"

	"studio_gateway/internal/auth"
	"studio_gateway/internal/logging"
	"studio_gateway/internal/middleware"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

// AuthHandler handles registration, login and the caller's own account.
type AuthHandler struct {
	auth   *auth.Service
	users  *storage.UserRepository
	logger *logging.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *auth.Service, users *storage.UserRepository) *AuthHandler {
	return &AuthHandler{
		auth:   svc,
		users:  users,
		logger: logging.NewLogger("auth-handler"),
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameRequired),
			errors.Is(err, auth.ErrPasswordTooShort),
			errors.Is(err, auth.ErrUsernameTaken):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Registration failed", "username", req.Username, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to register user")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, session)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			utils.RespondWithError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, auth.ErrAccountInactive):
			utils.RespondWithError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("Login failed", "username", req.Username, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, session)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusUnauthorized, "User no longer exists")
			return
		}
		h.logger.Error("Failed to load current user", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, user)
}

// ChangePassword handles PUT /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	err := h.auth.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			utils.RespondWithError(w, http.StatusUnauthorized, "Current password is incorrect")
		case errors.Is(err, auth.ErrPasswordTooShort):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrUserNotFound):
			utils.RespondWithError(w, http.StatusUnauthorized, "User no longer exists")
		default:
			h.logger.Error("Password change failed", "user_id", userID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to change password")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}
