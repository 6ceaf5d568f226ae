// Package registryserver serves a package directory as a collie registry.
package registryserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
)

const shutdownTimeout = 10 * time.Second

// Server serves {root}/packages/{repo}/{name}/{file}.
type Server struct {
	fs     afero.Fs
	root   string
	logger *log.Logger
	router chi.Router

	requests    *prometheus.CounterVec
	bytesServed prometheus.Counter
}

// New creates a server over root. Metrics are registered on a private
// registry and exposed on /metrics.
func New(fs afero.Fs, root string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	s := &Server{
		fs:     fs,
		root:   root,
		logger: logger,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collie_registry_requests_total",
			Help: "Registry requests by route and status code.",
		}, []string{"route", "code"}),
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "collie_registry_bytes_served_total",
			Help: "Bytes written in registry response bodies.",
		}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Get("/packages/{repo}/{name}/{file}", s.serveFile)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving registry", "root", s.root, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	repo, name, file := chi.URLParam(r, "repo"), chi.URLParam(r, "name"), chi.URLParam(r, "file")
	for _, seg := range []string{repo, name, file} {
		if !validSegment(seg) {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
	}

	p := filepath.Join(s.root, "packages", repo, name, file)
	f, err := s.fs.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	switch path.Ext(file) {
	case ".json":
		w.Header().Set("Content-Type", "application/json")
	case ".tgz":
		w.Header().Set("Content-Type", "application/gzip")
	}
	http.ServeContent(w, r, file, info.ModTime(), f)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.bytesServed.Add(float64(ww.BytesWritten()))
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", status, "bytes", ww.BytesWritten(), "took", time.Since(start))
	})
}

func validSegment(seg string) bool {
	return seg != "" && !strings.HasPrefix(seg, ".") && !strings.ContainsAny(seg, `/\`)
}
