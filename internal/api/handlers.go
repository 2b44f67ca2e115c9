package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	apperrors "hydrocare-rag/internal/errors"
	"hydrocare-rag/internal/models"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 1 << 20

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	s.writer.Write(w, r, &models.MessageResponse{Message: "HydroCare API is running"})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := &models.HealthResponse{Status: "ok"}
	if s.analyzer != nil {
		loaded := s.analyzer.Loaded()
		resp.ModelLoaded = &loaded
	}
	s.writer.Write(w, r, resp)
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errors.HandleValidationError(w, r, fmt.Errorf("invalid request body: %w", err), requestID)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.errors.HandleValidationError(w, r, err, requestID)
		return
	}

	resp, err := s.chat.Ask(r.Context(), strings.TrimSpace(req.Question), strings.TrimSpace(req.SessionID))
	if err != nil {
		s.errors.Handle(w, r, err, requestID)
		return
	}
	s.writer.Write(w, r, resp)
}

// resetSession takes the session ID from a JSON body or the session_id query
// parameter. Unknown or missing IDs are acknowledged.
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	var req models.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("reset body ignored", zap.String("request_id", requestID), zap.Error(err))
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}

	if err := s.chat.Reset(r.Context(), sessionID); err != nil {
		s.errors.Handle(w, r, err, requestID)
		return
	}
	s.writer.Write(w, r, &models.MessageResponse{Message: "Session réinitialisée"})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	if s.analyzer == nil || !s.analyzer.Loaded() {
		s.errors.HandleUnavailable(w, r, "Image analysis", requestID)
		return
	}

	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errors.HandleRequestTooLarge(w, r, limit, requestID)
			return
		}
		s.errors.HandleValidationError(w, r, fmt.Errorf("invalid multipart form: %w", err), requestID)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		s.errors.Handle(w, r, apperrors.ErrInvalidImage.WithCause(errors.New("missing image field")), requestID)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.errors.HandleInternalError(w, r, err, requestID)
		return
	}
	if int64(len(data)) > limit {
		s.errors.HandleRequestTooLarge(w, r, limit, requestID)
		return
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		s.metrics.Analyses.WithLabelValues("rejected").Inc()
		s.errors.Handle(w, r, apperrors.ErrInvalidImage.WithCause(fmt.Errorf("%s is %s", header.Filename, mime.String())), requestID)
		return
	}

	diagnosis, err := s.analyzer.Analyze(r.Context(), data, mime.String())
	if err != nil {
		s.metrics.Analyses.WithLabelValues("error").Inc()
		s.errors.Handle(w, r, apperrors.ErrAnalysis.WithCause(err), requestID)
		return
	}

	s.metrics.Analyses.WithLabelValues("ok").Inc()
	s.logger.Info("image analyzed",
		zap.String("request_id", requestID),
		zap.String("mime", mime.String()),
		zap.Int("bytes", len(data)),
		zap.String("disease", diagnosis.Disease),
		zap.Float64("confidence", diagnosis.Confidence),
	)
	s.writer.Write(w, r, diagnosis)
}
