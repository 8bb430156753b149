package httpapi

import (
	"net/http"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/middleware"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

// SettingsHandler serves the caller's UI preferences
type SettingsHandler struct {
	settings *storage.SettingsRepository
	global   *storage.GlobalSettingsRepository
	models   *storage.ModelRepository
	logger   *logging.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *storage.SettingsRepository, global *storage.GlobalSettingsRepository, modelRepo *storage.ModelRepository) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		global:   global,
		models:   modelRepo,
		logger:   logging.NewLogger("settings"),
	}
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	settings, ok := h.load(w, r, userID)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, settings)
}

// Update handles PUT /api/settings. Changing defaultModelId requires ADMIN.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd models.UserSettingsUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	ctx := r.Context()
	userID, _ := middleware.GetUserID(ctx)

	if upd.DefaultModelID != nil {
		if !middleware.IsAdmin(ctx) {
			utils.RespondWithError(w, http.StatusForbidden, "Admin access required")
			return
		}
		id, status, msg := validateDefaultModel(ctx, h.models, *upd.DefaultModelID)
		if status != 0 {
			if status == http.StatusInternalServerError {
				h.logger.Error("Failed to validate default model", "error", msg)
				msg = "Failed to save settings"
			}
			utils.RespondWithError(w, status, msg)
			return
		}
		if err := h.global.Set(ctx, storage.DefaultModelKey, id); err != nil {
			h.logger.Error("Failed to store default model", "model_id", id, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
	}

	current, err := h.settings.Get(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to load settings", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	upd.Apply(current)
	if err := h.settings.Save(ctx, current); err != nil {
		h.logger.Error("Failed to save settings", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	settings, ok := h.load(w, r, userID)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) load(w http.ResponseWriter, r *http.Request, userID string) (*models.UserSettings, bool) {
	settings, err := h.settings.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load settings", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load settings")
		return nil, false
	}

	defaultID, err := h.global.DefaultModelID(r.Context())
	if err != nil {
		h.logger.Error("Failed to read default model", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load settings")
		return nil, false
	}
	settings.DefaultModelID = utils.NilIfEmpty(defaultID)
	return settings, true
}
