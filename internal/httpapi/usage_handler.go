package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/middleware"
	"studio_gateway/internal/queue"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/usage"
	"studio_gateway/internal/utils"
)

const (
	defaultLogsLimit       = 50
	defaultDeadLetterLimit = 100
)

// UsageHandler serves usage reports and client-side usage logging
type UsageHandler struct {
	service  *usage.Service
	recorder *usage.Recorder
	worker   *storage.UsageQueueWorker
	logger   *logging.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(service *usage.Service, recorder *usage.Recorder, worker *storage.UsageQueueWorker) *UsageHandler {
	return &UsageHandler{
		service:  service,
		recorder: recorder,
		worker:   worker,
		logger:   logging.NewLogger("usage-handler"),
	}
}

// Stats handles GET /api/admin/usage
func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	q, ok := parseUsageQuery(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), q)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

// Logs handles GET /api/admin/usage/logs
func (h *UsageHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q, ok := parseUsageQuery(w, r)
	if !ok {
		return
	}
	if q.Limit == nil {
		q.Limit = utils.IntPtr(defaultLogsLimit)
	}

	records, err := h.service.Logs(r.Context(), q)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, records)
}

// Log handles POST /api/usage/log. Fields arrive as query parameters.
func (h *UsageHandler) Log(w http.ResponseWriter, r *http.Request) {
	tokensIn, err := utils.QueryInt(r, "tokens_input", 0)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokensOut, err := utils.QueryInt(r, "tokens_output", 0)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	success, err := queryBool(r, "success", true)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	username, _ := middleware.GetUsername(r.Context())
	rec, err := h.recorder.Log(r.Context(), username, usage.LogEntry{
		ModelID:      r.URL.Query().Get("model_id"),
		ModelName:    queryOptional(r, "model_name"),
		Provider:     queryOptional(r, "provider"),
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		Success:      success,
		ErrorMessage: queryOptional(r, "error_message"),
	})
	if err != nil {
		if errors.Is(err, usage.ErrModelIDRequired) {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to log usage", "username", username, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to log usage")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, rec)
}

// DeadLetters handles GET /api/admin/usage/dead-letters
func (h *UsageHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryInt(r, "limit", defaultDeadLetterLimit)
	if err != nil || limit < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	items, err := h.worker.GetDeadLetterItems(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list dead letters", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}
	utils.RespondWithJSON(w, http.StatusOK, items)
}

// RetryDeadLetter handles POST /api/admin/usage/dead-letters/{id}/retry
func (h *UsageHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.worker.RetryDeadLetterItem(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Dead letter item not found")
			return
		}
		h.logger.Error("Failed to retry dead letter", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to retry dead letter")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *UsageHandler) respondQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, usage.ErrInvalidQuery) {
		utils.RespondWithError(w, http.StatusBadRequest, "days and limit must be non-negative")
		return
	}
	h.logger.Error("Usage query failed", "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read usage")
}

func parseUsageQuery(w http.ResponseWriter, r *http.Request) (usage.Query, bool) {
	days, err := queryIntPtr(r, "days")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return usage.Query{}, false
	}
	limit, err := queryIntPtr(r, "limit")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return usage.Query{}, false
	}
	return usage.Query{
		Username: r.URL.Query().Get("username"),
		ModelID:  r.URL.Query().Get("model_id"),
		Days:     days,
		Limit:    limit,
	}, true
}
