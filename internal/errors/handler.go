package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licsrv/internal/infrastructure"
	"licsrv/internal/license"
)

// RetryAfterSeconds is advertised when the key store is unavailable.
const RetryAfterSeconds = 5

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)
	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	problem.WithExtension("trace_id", traceID(r))
	render.Render(w, r, problem)
}

// ErrorToProblem maps an error to Problem Details. License errors are
// classified with errors.Is against the package sentinels.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := r.URL.Path

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErrorToProblem(apiErr, path)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout", "The request took too long to process", path)
	case errors.Is(err, license.ErrNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeNotFound,
			"License Key Not Found", "No license key matches the request", path)
	case errors.Is(err, license.ErrInvalidArgument):
		return NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Invalid Request", err.Error(), path)
	case errors.Is(err, license.ErrUnauthenticated):
		return NewProblemDetails(http.StatusUnauthorized, TypeUnauthorized,
			"Unauthorized", "Authentication required to access this resource", path)
	case errors.Is(err, license.ErrStoreUnavailable):
		return NewProblemDetails(http.StatusServiceUnavailable, TypeServiceDown,
			"Service Unavailable", "The license store is temporarily unavailable", path).
			WithExtension("retry_after", RetryAfterSeconds)
	default:
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "An unexpected error occurred while processing your request", path)
	}
}

func apiErrorToProblem(apiErr *APIError, path string) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		problemType = TypeValidation
	case http.StatusNotFound:
		problemType = TypeNotFound
	case http.StatusUnauthorized:
		problemType = TypeUnauthorized
	case http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(apiErr.StatusCode, problemType,
		http.StatusText(apiErr.StatusCode), apiErr.Message, path).
		WithExtension("error_code", apiErr.ErrorCode)
	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered any) {
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error", "An unexpected error occurred", r.URL.Path).
		WithExtension("trace_id", traceID(r))
	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", string(debug.Stack()))
	}
	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, NewProblemDetails(http.StatusNotFound, TypeNotFound,
		"Not Found", "The requested resource was not found", r.URL.Path).
		WithExtension("trace_id", traceID(r)))
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, NewProblemDetails(http.StatusMethodNotAllowed, TypeMethod,
		"Method Not Allowed", fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method), r.URL.Path).
		WithExtension("trace_id", traceID(r)))
}

// RecoveryMiddleware provides panic recovery with proper error responses
func RecoveryMiddleware(handler *ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					handler.HandlePanic(w, r, rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func traceID(r *http.Request) string {
	if id := infrastructure.GetTraceID(r.Context()); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}
