package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/quiby-ai/review-search/config"
	"github.com/quiby-ai/review-search/internal/service"
	"github.com/quiby-ai/review-search/internal/storage"
)

// Searcher is the part of the search service the HTTP layer needs.
type Searcher interface {
	Search(ctx context.Context, req service.SearchRequest) (service.SearchResult, error)
	AddReview(ctx context.Context, text, lang string, stars int) (*storage.Point, error)
	Stats(ctx context.Context) (map[string]any, error)
}

type Server struct {
	searcher  Searcher
	cfg       config.ServerConfig
	languages []string
	logger    *slog.Logger
	validate  *validator.Validate
	page      *template.Template
}

func New(searcher Searcher, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		searcher:  searcher,
		cfg:       cfg.Server,
		languages: cfg.Dataset.Languages,
		logger:    logger.With("component", "server"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		page:      template.Must(template.New("index").Funcs(pageFuncs).Parse(indexHTML)),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/", s.handleIndex)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Post("/reviews", s.handleAddReview)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
