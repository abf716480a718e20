package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xentri-app/xentri-api/contracts"
	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/metrics"
	platformmiddleware "github.com/xentri-app/xentri-api/platform/go/middleware"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
	tenantmiddleware "github.com/xentri-app/xentri-api/platform/go/tenant/middleware"
)

const apiPrefix = "/api/v1"

// routeRegistrar is implemented by every domain HTTP handler.
type routeRegistrar interface {
	Routes(r chi.Router)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type routerConfig struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	CORS           platformmiddleware.CORSConfig
	Verify         platformauth.VerifyFunc
	Membership     tenant.MembershipVerifier
	RateLimiter    *platformmiddleware.RateLimiter
	Metrics        *metrics.Collector
	Gatherer       prometheus.Gatherer
	Readiness      pinger
	// Webhooks is mounted outside bearer auth; deliveries authenticate by signature.
	Webhooks routeRegistrar
	// API handlers run behind auth, org resolution, rate limiting and contract validation.
	API []routeRegistrar
}

func newRouter(cfg routerConfig) (http.Handler, error) {
	if cfg.Logger == nil {
		return nil, errors.New("router: logger is required")
	}
	if cfg.Verify == nil {
		return nil, errors.New("router: token verifier is required")
	}
	if cfg.Membership == nil {
		return nil, errors.New("router: membership verifier is required")
	}

	doc, err := contracts.Load()
	if err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	root := chi.NewRouter()
	root.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(timeout),
		platformmiddleware.CORS(cfg.CORS),
		platformlogging.RequestLogger(cfg.Logger, "/healthz", "/readyz", "/metrics"),
		cfg.Metrics.Middleware,
	)

	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	root.Get("/readyz", readinessHandler(cfg.Readiness, cfg.Logger))
	if cfg.Gatherer != nil {
		root.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	registerDocsRoutes(root, cfg.Logger)

	root.Route(apiPrefix, func(r chi.Router) {
		if cfg.Webhooks != nil {
			cfg.Webhooks.Routes(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(
				platformauth.JWT(cfg.Verify, platformauth.DefaultCredentialExtractor),
				platformauth.RequireUser,
				platformmiddleware.RequestTrace,
				tenantmiddleware.WithOrgContext(tenantmiddleware.Config{
					Verifier: cfg.Membership,
					Logger:   cfg.Logger,
				}),
			)
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Middleware)
			}
			r.Use(platformmiddleware.OpenAPIValidator(doc))

			for _, h := range cfg.API {
				h.Routes(r)
			}
		})
	})

	return root, nil
}

func readinessHandler(db pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
			problems.Write(w, r, problems.Problem{
				Title:  "Service unavailable",
				Status: http.StatusServiceUnavailable,
				Detail: "database is not reachable",
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
