package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"studio_gateway/internal/fileparse"
	"studio_gateway/internal/logging"
	"studio_gateway/internal/utils"
)

const defaultUploadMaxBytes = 10 << 20

// FilesHandler extracts text from attached files
type FilesHandler struct {
	maxBytes int64
	logger   *logging.Logger
}

// NewFilesHandler creates a new files handler accepting uploads up to maxBytes
func NewFilesHandler(maxBytes int64) *FilesHandler {
	if maxBytes <= 0 {
		maxBytes = defaultUploadMaxBytes
	}
	return &FilesHandler{maxBytes: maxBytes, logger: logging.NewLogger("files")}
}

// ParseBase64Request is the body of POST /api/parse-base64
type ParseBase64Request struct {
	Data        string `json:"data"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ParseFile handles POST /api/parse-file with a multipart "file" field
func (h *FilesHandler) ParseFile(w http.ResponseWriter, r *http.Request) {
	// multipart framing needs some room above the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		utils.RespondWithError(w, http.StatusBadRequest, "A multipart file field named 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		h.logger.Error("Failed to read upload", "filename", header.Filename, "error", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	result := fileparse.ParseUpload(header.Filename, header.Header.Get("Content-Type"), data)
	h.logger.Debug("File parsed", "filename", result.Filename, "bytes", len(data), "extracted", result.Text != nil)
	utils.RespondWithJSON(w, http.StatusOK, result)
}

// ParseBase64 handles POST /api/parse-base64
func (h *FilesHandler) ParseBase64(w http.ResponseWriter, r *http.Request) {
	var req ParseBase64Request
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*2)
	if err := utils.DecodeJSON(r.Body, &req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "File too large")
		case errors.Is(err, io.EOF):
			utils.RespondWithError(w, http.StatusBadRequest, "Request body is required")
		default:
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
		return
	}

	result, err := fileparse.ParseBase64(req.Data, req.Filename, req.ContentType)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid base64 data: "+strings.TrimPrefix(err.Error(), fileparse.ErrInvalidBase64.Error()+": "))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, result)
}
