package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"

	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/subtitle"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeNoSubtitles      = "NO_SUBTITLES"
	CodeTooLarge         = "TOO_LARGE"
	CodeStorageFailure   = "STORAGE_FAILURE"
	CodeProcessingFailed = "PROCESSING_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

func AuthMiddleware(tokens TokenStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, http.StatusUnauthorized, "missing authorization header", CodeUnauthorized)
				return
			}

			if !strings.HasPrefix(auth, "Bearer ") {
				WriteError(w, http.StatusUnauthorized, "invalid authorization format", CodeUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")

			storedToken, err := tokens.GetConfig(r.Context(), catalog.ConfigKeyAPIToken)
			if err != nil || storedToken == "" {
				logger.Error("failed to get api token from config", "error", err)
				WriteError(w, http.StatusInternalServerError, "auth configuration error", CodeInternal)
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(storedToken)) != 1 {
				logger.Warn("invalid api token", "provided", logging.SanitizeToken(token))
				WriteError(w, http.StatusUnauthorized, "invalid token", CodeUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows browser clients served from origins to call the API.
// An empty origin list allows any origin.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Range"}),
		handlers.ExposedHeaders([]string{"Content-Disposition", "Content-Range", "Content-Length", "Accept-Ranges", "X-Request-ID"}),
		handlers.MaxAge(600),
	)
}

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID,
			)
		})
	}
}

func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID, _ := r.Context().Value(RequestIDKey).(string)
					logger.Error("panic recovered", "error", err, "request_id", requestID)
					WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := catalog.NewID()[:8]
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func WriteError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a workflow error to its HTTP status and code.
// Storage and unclassified failures are logged and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	requestID, _ := r.Context().Value(RequestIDKey).(string)

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", CodeTooLarge)
	case errors.Is(err, subtitle.ErrNoSubtitles):
		WriteError(w, http.StatusNotFound, apperr.Message(err), CodeNoSubtitles)
	case errors.Is(err, apperr.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, apperr.Message(err), CodeInvalidInput)
	case errors.Is(err, apperr.ErrNotFound):
		WriteError(w, http.StatusNotFound, apperr.Message(err), CodeNotFound)
	case errors.Is(err, apperr.ErrStorage):
		logger.Error("storage failure", "error", err, "request_id", requestID)
		WriteError(w, http.StatusInternalServerError, "storage failure", CodeStorageFailure)
	case errors.Is(err, apperr.ErrProcessing):
		logger.Error("processing failure", "error", err, "request_id", requestID)
		WriteError(w, http.StatusInternalServerError, apperr.Message(err), CodeProcessingFailed)
	default:
		logger.Error("unexpected error", "error", err, "request_id", requestID)
		WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
	}
}
