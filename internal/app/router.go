package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/peerlab/gateway/internal/mapping"
	"github.com/peerlab/gateway/internal/observability"
	"github.com/peerlab/gateway/internal/user"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	UserHandler    *user.Handler
	MappingHandler *mapping.Handler
	UserAuth       func(http.Handler) http.Handler
	AgentAuth      func(http.Handler) http.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with the gateway defaults: the client
// API behind end-user auth under /api, the service API behind agent auth
// under /service.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.UserAuth != nil {
			r.Use(params.UserAuth)
		}
		params.UserHandler.MountRoutes(r)
	})

	r.Route("/service", func(r chi.Router) {
		if params.AgentAuth != nil {
			r.Use(params.AgentAuth)
		}
		params.MappingHandler.MountRoutes(r)
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
