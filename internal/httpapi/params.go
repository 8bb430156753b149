package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"studio_gateway/internal/utils"
)

const maxJSONBody = 1 << 20

// decodeBody decodes a strict JSON body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := utils.DecodeJSON(http.MaxBytesReader(w, r.Body, maxJSONBody), dst)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		utils.RespondWithError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
	return false
}

// queryIntPtr returns nil when key is absent.
func queryIntPtr(r *http.Request, key string) (*int, error) {
	if r.URL.Query().Get(key) == "" {
		return nil, nil
	}
	v, err := utils.QueryInt(r, key, 0)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func queryBool(r *http.Request, key string, def bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return v, nil
}

func queryOptional(r *http.Request, key string) *string {
	return utils.NilIfEmpty(r.URL.Query().Get(key))
}

type successResponse struct {
	Success bool `json:"success"`
}
