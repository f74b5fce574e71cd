package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/middleware"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

// writeServiceError maps service errors to status codes. Every credential or
// token failure gets the same generic 401.
func (a *api) writeServiceError(w http.ResponseWriter, err error) {
	var rl *cmsauth.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(rl)))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
	case errors.Is(err, cmsauth.ErrUserExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: "user already exists"})
	case errors.Is(err, cmsauth.ErrPasswordPolicy):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, cmsauth.ErrInvalidRegistration):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, cmsauth.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, cmsauth.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable"})
	case errors.Is(err, cmsauth.ErrInvalidCredentials),
		errors.Is(err, cmsauth.ErrSessionRevoked),
		errors.Is(err, cmsauth.ErrWrongTokenKind),
		errors.Is(err, cmsauth.ErrExpired),
		errors.Is(err, cmsauth.ErrInvalidSignature),
		errors.Is(err, cmsauth.ErrUnknownKeyVersion),
		errors.Is(err, cmsauth.ErrInvalidAPIKey):
		middleware.Unauthorized(w)
	default:
		a.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func retrySeconds(e *cmsauth.RateLimitError) int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
