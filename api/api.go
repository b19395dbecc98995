package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/cfg"
	"github.com/engagekit/engrelay/event"
	"github.com/engagekit/engrelay/store"
)

// EngagementStore is the persistence surface the handlers need.
type EngagementStore interface {
	List(ctx context.Context, schema string, limit int) ([]store.Engagement, error)
	Insert(ctx context.Context, schema string, e *store.Engagement) error
	UpdateStatus(ctx context.Context, schema string, id int64, status string) (store.Engagement, error)
	Stats(ctx context.Context, schema string) ([]store.StatusCount, error)
}

// RecentSource yields the per-tenant window of recently dispatched events.
type RecentSource interface {
	Recent(tenantID string) []event.ChangeEvent
}

// Server is the tenant-scoped REST surface. Clients use it to bootstrap
// state; live updates arrive over the WebSocket transport.
type Server struct {
	store   EngagementStore
	recent  RecentSource
	tenants map[string]cfg.TenantConfiguration
}

// NewServer builds the handler set. Tenants are addressable by code or
// schema name in the {tenant} path segment.
func NewServer(st EngagementStore, recent RecentSource, tenants []cfg.TenantConfiguration) *Server {
	lookup := make(map[string]cfg.TenantConfiguration, len(tenants)*2)
	for _, t := range tenants {
		lookup[t.Code] = t
		lookup[t.SchemaName] = t
	}
	return &Server{store: st, recent: recent, tenants: lookup}
}

// Routes assembles the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/{tenant}", func(r chi.Router) {
		r.Use(s.tenantCtx)
		r.Get("/engagements", s.handleList)
		r.Post("/engagements", s.handleCreate)
		r.Put("/engagements/{id}", s.handleUpdateStatus)
		r.Get("/company/info", s.handleCompanyInfo)
		r.Get("/stats", s.handleStats)
		r.Get("/events/recent", s.handleRecent)
	})

	return r
}

type ctxKey int

const tenantKey ctxKey = iota

func (s *Server) tenantCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := s.tenants[chi.URLParam(r, "tenant")]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown tenant")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey, tenant)))
	})
}

func tenantFrom(ctx context.Context) cfg.TenantConfiguration {
	return ctx.Value(tenantKey).(cfg.TenantConfiguration)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
