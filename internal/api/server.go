package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/gorilla/mux"
	"github.com/ory/herodot"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/disease"
	apperrors "hydrocare-rag/internal/errors"
	"hydrocare-rag/internal/metrics"
	"hydrocare-rag/internal/models"
)

// Chatter answers questions within a session and forgets sessions.
type Chatter interface {
	Ask(ctx context.Context, question, sessionID string) (*models.ChatResponse, error)
	Reset(ctx context.Context, sessionID string) error
}

type Server struct {
	cfg      *config.Config
	router   *mux.Router
	chat     Chatter
	analyzer disease.Analyzer
	errors   *apperrors.ErrorHandler
	writer   *herodot.JSONWriter
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewServer wires the routes. analyzer may be nil, in which case /analyze
// answers 503 and /health omits model_loaded.
func NewServer(cfg *config.Config, chat Chatter, analyzer disease.Analyzer, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)

	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		chat:     chat,
		analyzer: analyzer,
		errors:   apperrors.NewErrorHandler(cfg, logger),
		writer:   herodot.NewJSONWriter(nil),
		validate: v,
		metrics:  m,
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestIDMiddleware, s.tracingMiddleware, s.loggingMiddleware)

	s.router.HandleFunc("/", s.root).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat", s.chatHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/api/reset-session", s.resetSession).Methods(http.MethodPost)
	s.router.HandleFunc("/analyze", s.analyze).Methods(http.MethodPost)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errors.HandleNotFoundError(w, r, r.URL.Path, RequestIDFromContext(r.Context()))
	}))
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writer.WriteError(w, r, &herodot.DefaultError{
			CodeField:   http.StatusMethodNotAllowed,
			StatusField: http.StatusText(http.StatusMethodNotAllowed),
			ErrorField:  "Method not allowed",
		})
	})
}

// Handler returns the router behind the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		TLSConfig:    s.cfg.GetTLSConfig(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", srv.Addr), zap.Bool("tls", s.cfg.Server.TLS.Enabled))
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.cfg.Server.MaxUploadMB
	if mb <= 0 {
		mb = 10
	}
	return int64(mb) << 20
}
