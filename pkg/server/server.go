// Package server exposes the tiling pipelines over HTTP.
//
// Each request body is a configuration document merged over the server's
// base configuration; the response is always the report envelope.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/tile-selector/internal/config"
	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/pipeline"
)

// RunFunc is the signature shared by the pipelines
type RunFunc func(context.Context, *config.Config) (*pipeline.Summary, error)

// Server serves tiling requests
type Server struct {
	base     *config.Config
	roots    []string
	runImage RunFunc
	runDir   RunFunc
}

// New creates a Server whose requests start from base. When roots are
// given, every input and output path of a request must lie under one of
// them.
func New(base *config.Config, roots ...string) *Server {
	if base == nil {
		base = config.Default()
	}
	s := &Server{base: base, runImage: pipeline.RunImage, runDir: pipeline.RunDirectory}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			s.roots = append(s.roots, abs)
		}
	}
	return s
}

// Routes returns the HTTP handler
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true

	r.GET("/api/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/api/tile/image", s.handle("image", s.runImage))
	r.POST("/api/tile/dir", s.handle("dir", s.runDir))
	return r
}

func (s *Server) handle(name string, run RunFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		body, err := c.GetRawData()
		if err != nil {
			s.respond(c, name, start, nil, apperr.Internal("request", err))
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}

		cfg, err := config.Merge(s.base, body)
		if err == nil {
			err = s.confine(cfg)
		}
		if err != nil {
			s.respond(c, name, start, nil, err)
			return
		}
		summary, err := run(c.Request.Context(), cfg)
		s.respond(c, name, start, summary, err)
	}
}

func (s *Server) respond(c *gin.Context, name string, start time.Time, summary *pipeline.Summary, err error) {
	status := StatusFor(err)
	if err != nil {
		slog.Warn("tiling request failed", "pipeline", name, "status", status, "error", err)
		c.JSON(status, apperr.NewReport(nil, err))
		return
	}
	slog.Info("tiling request", "pipeline", name, "tiles", summary.Tiles, "duration", time.Since(start))
	c.JSON(status, apperr.NewReport(summary, nil))
}

func (s *Server) confine(cfg *config.Config) error {
	if len(s.roots) == 0 {
		return nil
	}
	paths := []struct{ key, path string }{
		{"input.annotation_path", cfg.Input.AnnotationPath},
		{"input.image_path", cfg.Input.ImagePath},
		{"input.images_dir", cfg.Input.ImagesDir},
		{"output.output_dir", cfg.Output.OutputDir},
		{"output.annotation_path", cfg.Output.AnnotationPath},
	}
	for _, p := range paths {
		if p.path != "" && !s.allowed(p.path) {
			return apperr.Config(apperr.CodeInvalidValue, p.key+" is outside the served directories", p.path)
		}
	}
	return nil
}

func (s *Server) allowed(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// StatusFor maps an error to the HTTP status of its report
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperr.KindConfig:
		return http.StatusBadRequest
	case apperr.KindData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
