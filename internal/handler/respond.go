package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
)

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case appErrors.IsInvalidTransition(err):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests
	case appErrors.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("⚠️ failed to encode response:", err)
	}
}

// WriteError hides internal error text behind a generic message.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Println("❌ request failed:", err)
		msg = "internal server error"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}
