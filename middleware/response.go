package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrEthical07/cmsauth/ratelimit"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

// Unauthorized writes the generic 401 body. Handlers outside this package
// use it so every authentication failure looks the same.
func Unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func forbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "forbidden")
}

// TooManyRequests writes a 429 with a Retry-After header taken from d.
func TooManyRequests(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	writeError(w, http.StatusTooManyRequests, "rate limited")
}
