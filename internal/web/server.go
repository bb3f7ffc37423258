package web

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/morsel/internal/catalog"
	"github.com/hpungsan/morsel/internal/config"
	"github.com/hpungsan/morsel/internal/label"
	"github.com/hpungsan/morsel/internal/session"
)

// shutdownTimeout bounds how long in-flight requests get after a stop signal.
const shutdownTimeout = 5 * time.Second

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	sessions *session.Registry
	labels   *label.Extractor
	products *catalog.Catalog
	log      *zap.Logger
}

// NewHandlers creates the API handlers. Each browser gets its own controller
// from sessions, keyed by the session cookie.
func NewHandlers(db *sql.DB, cfg *config.Config, sessions *session.Registry, labels *label.Extractor, products *catalog.Catalog, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		db:       db,
		cfg:      cfg,
		sessions: sessions,
		labels:   labels,
		products: products,
		log:      log.Named("web"),
	}
}

// Router builds the chi router with all API routes.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// Heartbeat answers /health itself, so headers must be set before it.
	r.Use(securityHeaders)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(requestLogger(h.log))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(browserSession)
			r.Post("/analysis", h.HandleStartAnalysis)
			r.Get("/analysis", h.HandleGetAnalysis)
			r.Delete("/analysis", h.HandleResetAnalysis)
			r.Post("/analysis/follow-up", h.HandleFollowUp)
		})

		r.Post("/extract", h.HandleExtract)
		r.Get("/products", h.HandleProductSearch)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.HandleHistoryList)
			r.Get("/{id}", h.HandleHistoryShow)
			r.Post("/{id}/star", h.HandleHistoryStar)
			r.Delete("/{id}", h.HandleHistoryDelete)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.HandleProfileList)
			r.Post("/", h.HandleProfileCreate)
			r.Post("/deactivate", h.HandleProfileDeactivate)
			r.Patch("/{id}", h.HandleProfileUpdate)
			r.Post("/{id}/activate", h.HandleProfileActivate)
			r.Delete("/{id}", h.HandleProfileDelete)
		})
	})

	return r
}

// NewServer creates the HTTP server for the API.
func NewServer(h *Handlers, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request at debug, or at warn for 5xx responses.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("request failed", fields...)
				return
			}
			log.Debug("request", fields...)
		})
	}
}

// Run serves srv until ctx is canceled, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
			log.Warn("server is binding to all interfaces and may be accessible from the network")
		}
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
