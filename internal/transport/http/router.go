// Package httptransport assembles the HTTP surface: the public redirect
// endpoint and the admin API behind JWT authentication.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"refledger/internal/platform/metrics"
	"refledger/pkg/platform/httputil"
	adminmw "refledger/pkg/platform/middleware/admin"
	"refledger/pkg/platform/middleware/metadata"
	"refledger/pkg/platform/middleware/requestid"
	"refledger/pkg/platform/middleware/requesttime"
)

// Registrar mounts a handler's routes on a router.
type Registrar interface {
	Register(r chi.Router)
}

// Deps collects everything the router mounts.
type Deps struct {
	Logger         *slog.Logger
	AdminJWTSecret string
	Metrics        *metrics.Metrics

	Partner     Registrar
	Attribution Registrar
	Analytics   Registrar
	Payout      Registrar

	// Link splits its surface: management routes are admin-only, the
	// redirect route is public.
	LinkAdmin  func(r chi.Router)
	LinkPublic func(r chi.Router)
}

// NewRouter wires middleware and all endpoint groups.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Public redirect surface. No auth; clicks come from end users.
	if deps.LinkPublic != nil {
		r.Group(func(pub chi.Router) {
			deps.LinkPublic(pub)
		})
	}

	// Administrative API.
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(adminmw.RequireAdminJWT(deps.AdminJWTSecret, deps.Logger))
		for _, reg := range []Registrar{deps.Partner, deps.Attribution, deps.Analytics, deps.Payout} {
			if reg != nil {
				reg.Register(api)
			}
		}
		if deps.LinkAdmin != nil {
			deps.LinkAdmin(api)
		}
	})

	return r
}
