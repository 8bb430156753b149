package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/middleware"
	"studio_gateway/internal/proxy"
	"studio_gateway/internal/utils"
)

const defaultChatMaxBytes = 50 << 20

// ChatHandler forwards chat completion calls through the proxy
type ChatHandler struct {
	proxy    *proxy.Proxy
	maxBytes int64
	logger   *logging.Logger
}

// NewChatHandler creates a new chat handler accepting bodies up to maxBytes
func NewChatHandler(p *proxy.Proxy, maxBytes int64, logger *logging.Logger) *ChatHandler {
	if maxBytes <= 0 {
		maxBytes = defaultChatMaxBytes
	}
	if logger == nil {
		logger = logging.NewLogger("chat")
	}
	return &ChatHandler{proxy: p, maxBytes: maxBytes, logger: logger}
}

// Complete handles POST /api/chat/completions. Unknown body fields are
// ignored so clients can send OpenAI-shaped payloads.
func (h *ChatHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req proxy.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			utils.RespondWithError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	username, _ := middleware.GetUsername(r.Context())

	if req.Stream {
		h.stream(w, r, username, req)
		return
	}

	result, err := h.proxy.Complete(r.Context(), username, req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Body)
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, username string, req proxy.Request) {
	s, err := h.proxy.OpenStream(r.Context(), username, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer s.Close()

	// streams may outlive the server WriteTimeout
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("Failed to clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		data, err := s.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("Stream interrupted", "username", username, "model_id", s.Model().ID, "error", err)
			}
			break
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			h.logger.Debug("Client went away during stream", "username", username, "error", err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Debug("Client went away during stream", "username", username, "error", err)
			return
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	_ = rc.Flush()
}

func (h *ChatHandler) respondError(w http.ResponseWriter, err error) {
	var perr *proxy.Error
	if errors.As(err, &perr) {
		if perr.Dispatched() {
			h.logger.Warn("Completion failed", "kind", perr.Kind.String(), "status", perr.Status, "error", perr.Message)
		}
		utils.RespondWithError(w, perr.Status, perr.Message)
		return
	}
	h.logger.Error("Completion failed", "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
}
