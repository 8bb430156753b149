package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

// ModelsHandler handles the model catalog and the global default model
type ModelsHandler struct {
	models   *storage.ModelRepository
	settings *storage.GlobalSettingsRepository
	logger   *logging.Logger
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(modelRepo *storage.ModelRepository, settings *storage.GlobalSettingsRepository, logger *logging.Logger) *ModelsHandler {
	if logger == nil {
		logger = logging.NewLogger("models")
	}
	return &ModelsHandler{models: modelRepo, settings: settings, logger: logger}
}

// CreateModelRequest is the body of POST /api/admin/models. IsEnabled
// defaults to true.
type CreateModelRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Description *string `json:"description,omitempty"`
	Icon        string  `json:"icon,omitempty"`
	APIModelID  *string `json:"apiModelId,omitempty"`
	ConfigKey   *string `json:"configKey,omitempty"`
	BaseURL     *string `json:"defaultBaseUrl,omitempty"`
	APIKey      *string `json:"apiKey,omitempty"`
	IsEnabled   *bool   `json:"isEnabled,omitempty"`
}

func (req *CreateModelRequest) model() *models.ModelConfig {
	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	return &models.ModelConfig{
		ID:          req.ID,
		Name:        req.Name,
		Provider:    req.Provider,
		Description: req.Description,
		Icon:        req.Icon,
		APIModelID:  req.APIModelID,
		ConfigKey:   req.ConfigKey,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		IsEnabled:   enabled,
	}
}

// DefaultModelRequest is the body of PUT /api/admin/default-model
type DefaultModelRequest struct {
	ModelID string `json:"modelId"`
}

// DefaultModelResponse carries the configured default, null when unset
type DefaultModelResponse struct {
	DefaultModelID *string `json:"defaultModelId"`
}

// ListPublic handles GET /api/models
func (h *ModelsHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	list, err := h.models.List(r.Context(), false)
	if err != nil {
		h.logger.Error("Failed to list models", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}

	out := make([]models.PublicModel, 0, len(list))
	for _, m := range list {
		out = append(out, m.Public())
	}
	utils.RespondWithJSON(w, http.StatusOK, out)
}

// List handles GET /api/admin/models
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	includeDisabled, err := queryBool(r, "include_disabled", true)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.models.List(r.Context(), includeDisabled)
	if err != nil {
		h.logger.Error("Failed to list models", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}
	if list == nil {
		list = []*models.ModelConfig{}
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

// GetByID handles GET /api/admin/models/{modelID}
func (h *ModelsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "modelID")
	model, err := h.models.GetByID(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, id, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, model)
}

// Create handles POST /api/admin/models
func (h *ModelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateModelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	model := req.model()
	if err := h.models.Create(r.Context(), model); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateModel):
			utils.RespondWithError(w, http.StatusBadRequest, "Model ID already exists")
		case isModelValidationError(err):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Failed to create model", "model_id", req.ID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create model")
		}
		return
	}

	h.logger.Info("Model created", "model_id", model.ID, "provider", model.Provider)
	utils.RespondWithJSON(w, http.StatusCreated, model)
}

// Update handles PUT /api/admin/models/{modelID}
func (h *ModelsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd models.ModelConfigUpdate
	if !decodeBody(w, r, &upd) {
		return
	}

	id := chi.URLParam(r, "modelID")
	model, err := h.models.Update(r.Context(), id, &upd)
	if err != nil {
		if isModelValidationError(err) {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondLookupError(w, id, err)
		return
	}

	h.logger.Info("Model updated", "model_id", id)
	utils.RespondWithJSON(w, http.StatusOK, model)
}

// Delete handles DELETE /api/admin/models/{modelID}. Deleting the global
// default also clears it.
func (h *ModelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "modelID")
	if err := h.models.Delete(r.Context(), id); err != nil {
		h.respondLookupError(w, id, err)
		return
	}

	current, err := h.settings.DefaultModelID(r.Context())
	if err != nil {
		h.logger.Warn("Failed to read default model after delete", "model_id", id, "error", err)
	} else if current == id {
		if err := h.settings.Delete(r.Context(), storage.DefaultModelKey); err != nil {
			h.logger.Warn("Failed to clear default model", "model_id", id, "error", err)
		}
	}

	h.logger.Info("Model deleted", "model_id", id)
	utils.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

// GetDefault handles GET /api/admin/default-model
func (h *ModelsHandler) GetDefault(w http.ResponseWriter, r *http.Request) {
	id, err := h.settings.DefaultModelID(r.Context())
	if err != nil {
		h.logger.Error("Failed to read default model", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read default model")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, DefaultModelResponse{DefaultModelID: utils.NilIfEmpty(id)})
}

// SetDefault handles PUT /api/admin/default-model
func (h *ModelsHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	var req DefaultModelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, status, msg := validateDefaultModel(r.Context(), h.models, req.ModelID)
	if status != 0 {
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to validate default model", "model_id", req.ModelID, "error", msg)
			msg = "Failed to set default model"
		}
		utils.RespondWithError(w, status, msg)
		return
	}

	if err := h.settings.Set(r.Context(), storage.DefaultModelKey, id); err != nil {
		h.logger.Error("Failed to store default model", "model_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to set default model")
		return
	}

	h.logger.Info("Default model set", "model_id", id)
	utils.RespondWithJSON(w, http.StatusOK, DefaultModelResponse{DefaultModelID: &id})
}

// ClearDefault handles DELETE /api/admin/default-model
func (h *ModelsHandler) ClearDefault(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Delete(r.Context(), storage.DefaultModelKey); err != nil {
		h.logger.Error("Failed to clear default model", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to clear default model")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *ModelsHandler) respondLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrModelNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Model not found")
		return
	}
	h.logger.Error("Model lookup failed", "model_id", id, "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load model")
}

type modelLookup interface {
	GetByID(ctx context.Context, id string) (*models.ModelConfig, error)
}

// validateDefaultModel checks that id names an enabled model. A non-zero
// status is the response to send; for 500 msg carries the cause.
func validateDefaultModel(ctx context.Context, lookup modelLookup, id string) (string, int, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", http.StatusBadRequest, "modelId is required"
	}
	model, err := lookup.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			return "", http.StatusNotFound, "Model not found"
		}
		return "", http.StatusInternalServerError, err.Error()
	}
	if !model.IsEnabled {
		return "", http.StatusBadRequest, "Model is disabled"
	}
	return id, 0, ""
}

func isModelValidationError(err error) bool {
	return errors.Is(err, models.ErrModelIDRequired) ||
		errors.Is(err, models.ErrModelNameRequired) ||
		errors.Is(err, models.ErrModelProviderRequired)
}
