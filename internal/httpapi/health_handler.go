package httpapi

import (
	"context"
	"net/http"
	"time"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/utils"
)

const healthTimeout = 3 * time.Second

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler serves liveness checks
type HealthHandler struct {
	db     HealthChecker
	logger *logging.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, logger: logging.NewLogger("health")}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Check handles GET / and GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.db.Health(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "error",
			Message: "database unavailable",
		})
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Message: "AI Chat Studio gateway is running",
	})
}
