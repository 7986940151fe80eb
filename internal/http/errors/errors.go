// Package errors writes JSON error responses and logs the cause with the
// request ID.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error string `json:"error"`
}

// JSON writes status with {"error": message}.
func JSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{Error: message})
}

// InternalError logs err and returns a generic 500 to the client.
func InternalError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(log, r, message, err)
	JSON(w, http.StatusInternalServerError, "internal server error")
}

func BadRequestError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	requestLogger(log, r).Warn("bad request", zap.Error(err))
	JSON(w, http.StatusBadRequest, clientMessage)
}

func LogError(log *zap.Logger, r *http.Request, message string, err error) {
	requestLogger(log, r).Error(message, zap.Error(err))
}

func LogInfo(log *zap.Logger, r *http.Request, message string) {
	requestLogger(log, r).Info(message)
}

func requestLogger(log *zap.Logger, r *http.Request) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return log.With(zap.String("request_id", id))
	}
	return log
}
