// Package errors provides secure error handling utilities
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/ory/herodot"
	"go.uber.org/zap"

	"hydrocare-rag/internal/config"
)

// ErrorHandler renders herodot JSON errors. In secure mode (or production)
// responses carry no internal details; everything is logged either way.
type ErrorHandler struct {
	config *config.Config
	logger *zap.Logger
	writer *herodot.JSONWriter
}

// NewErrorHandler creates a new error handler with the given configuration
func NewErrorHandler(cfg *config.Config, logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		config: cfg,
		logger: logger,
		writer: herodot.NewJSONWriter(&zapReporter{logger: logger}),
	}
}

func (h *ErrorHandler) secure() bool {
	return h.config.Security.ErrorMode == "secure" || h.config.IsProduction()
}

// Handle maps pipeline errors to responses by their StandardError type.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	var se *StandardError
	if !stderrors.As(err, &se) {
		h.HandleInternalError(w, r, err, requestID)
		return
	}

	switch se.Type {
	case ErrGeneration.Type, ErrRetrieval.Type, ErrAnalysis.Type:
		h.HandleServiceError(w, r, se.Message, err, requestID)
	case ErrInvalidImage.Type:
		h.HandleValidationError(w, r, err, requestID)
	case ErrSession.Type:
		h.HandleDatabaseError(w, r, err, requestID)
	default:
		h.HandleInternalError(w, r, err, requestID)
	}
}

// HandleValidationError handles input validation errors
func (h *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	resp := h.newError(http.StatusBadRequest, "Invalid request", requestID)
	if !h.secure() {
		resp.ErrorField = "Invalid request parameters"
		resp.ReasonField = err.Error()
	}

	h.logError("VALIDATION_ERROR", err, requestID, r)
	h.write(w, r, resp)
}

// HandleRequestTooLarge handles uploads over the configured size limit
func (h *ErrorHandler) HandleRequestTooLarge(w http.ResponseWriter, r *http.Request, limitBytes int64, requestID string) {
	resp := h.newError(http.StatusRequestEntityTooLarge, "Request body too large", requestID)
	resp.DetailsField = map[string]interface{}{"limit_bytes": limitBytes}

	h.logError("PAYLOAD_TOO_LARGE", nil, requestID, r)
	h.write(w, r, resp)
}

// HandleNotFoundError handles resource not found errors
func (h *ErrorHandler) HandleNotFoundError(w http.ResponseWriter, r *http.Request, resource string, requestID string) {
	resp := h.newError(http.StatusNotFound, "Resource not found", requestID)
	if !h.secure() {
		resp.ErrorField = "Resource not found: " + resource
	}

	h.logError("NOT_FOUND", nil, requestID, r)
	h.write(w, r, resp)
}

// HandleUnavailable reports a feature that is disabled or not loaded
func (h *ErrorHandler) HandleUnavailable(w http.ResponseWriter, r *http.Request, feature string, requestID string) {
	resp := h.newError(http.StatusServiceUnavailable, "Service unavailable", requestID)
	if !h.secure() {
		resp.ReasonField = feature + " is not enabled"
	}

	h.logError("UNAVAILABLE", nil, requestID, r)
	h.write(w, r, resp)
}

// HandleInternalError handles internal server errors
func (h *ErrorHandler) HandleInternalError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	resp := h.newError(http.StatusInternalServerError, "An internal error occurred", requestID)

	// Never expose internal error details in production
	if h.config.IsDevelopment() && h.config.Security.ErrorMode != "secure" {
		resp.ReasonField = err.Error()
	}

	h.logError("INTERNAL_ERROR", err, requestID, r)
	h.write(w, r, resp)
}

// HandleDatabaseError handles index and session storage errors
func (h *ErrorHandler) HandleDatabaseError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	resp := h.newError(http.StatusInternalServerError, "Storage operation failed", requestID)

	if h.config.IsDevelopment() && h.config.Security.ErrorMode != "secure" {
		resp.ReasonField = err.Error()
	}

	h.logError("DATABASE_ERROR", err, requestID, r)
	h.write(w, r, resp)
}

// HandleServiceError handles upstream model and embedding failures
func (h *ErrorHandler) HandleServiceError(w http.ResponseWriter, r *http.Request, service string, err error, requestID string) {
	resp := h.newError(http.StatusBadGateway, "External service unavailable", requestID)

	if h.config.IsDevelopment() && h.config.Security.ErrorMode != "secure" {
		resp.ErrorField = "Service unavailable: " + service
		resp.ReasonField = err.Error()
	}

	h.logError("SERVICE_ERROR", err, requestID, r)
	h.write(w, r, resp)
}

func (h *ErrorHandler) newError(code int, message, requestID string) *herodot.DefaultError {
	return &herodot.DefaultError{
		CodeField:   code,
		StatusField: http.StatusText(code),
		ErrorField:  message,
		RIDField:    h.getRequestID(requestID),
	}
}

func (h *ErrorHandler) write(w http.ResponseWriter, r *http.Request, e *herodot.DefaultError) {
	h.writer.WriteError(w, r, e)
}

// logError logs errors with request context
func (h *ErrorHandler) logError(errorType string, err error, requestID string, r *http.Request) {
	fields := []zap.Field{
		zap.String("type", errorType),
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("user_agent", r.Header.Get("User-Agent")),
		zap.String("remote_ip", getClientIP(r)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	h.logger.Error("request failed", fields...)
}

// getRequestID hides the request ID from clients only in secure production mode
func (h *ErrorHandler) getRequestID(requestID string) string {
	if h.config.IsProduction() && h.config.Security.ErrorMode == "secure" {
		return ""
	}
	return requestID
}

// getClientIP extracts the real client IP from request headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// zapReporter receives herodot's own write failures.
type zapReporter struct {
	logger *zap.Logger
}

func (z *zapReporter) ReportError(r *http.Request, code int, err error, args ...interface{}) {
	z.logger.Debug("error response",
		zap.Int("code", code),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

// Predefined error types for pipeline stages

// ErrRetrieval indicates the question could not be embedded or searched
var ErrRetrieval = &StandardError{
	Type:    "RETRIEVAL_ERROR",
	Message: "Document retrieval failed",
}

// ErrGeneration indicates the answer model failed
var ErrGeneration = &StandardError{
	Type:    "GENERATION_ERROR",
	Message: "Answer generation failed",
}

// ErrSession indicates the session backend failed
var ErrSession = &StandardError{
	Type:    "SESSION_ERROR",
	Message: "Session storage failed",
}

// ErrAnalysis indicates the image model failed
var ErrAnalysis = &StandardError{
	Type:    "ANALYSIS_ERROR",
	Message: "Image analysis failed",
}

// ErrInvalidImage indicates the uploaded file is not a usable image
var ErrInvalidImage = &StandardError{
	Type:    "INVALID_IMAGE",
	Message: "Invalid image",
}

// StandardError represents a standard application error
type StandardError struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same type regardless of cause.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Type == e.Type
}

// WithCause adds a cause to the error
func (e *StandardError) WithCause(cause error) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: e.Message,
		Cause:   cause,
	}
}
