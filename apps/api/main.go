package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	briefshandler "github.com/xentri-app/xentri-api/domains/briefs/be/handler"
	briefsrepo "github.com/xentri-app/xentri-api/domains/briefs/be/repo"
	briefsservice "github.com/xentri-app/xentri-api/domains/briefs/be/service"
	eventshandler "github.com/xentri-app/xentri-api/domains/events/be/handler"
	eventsrepo "github.com/xentri-app/xentri-api/domains/events/be/repo"
	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	orgshandler "github.com/xentri-app/xentri-api/domains/orgs/be/handler"
	orgsrepo "github.com/xentri-app/xentri-api/domains/orgs/be/repo"
	orgsservice "github.com/xentri-app/xentri-api/domains/orgs/be/service"
	webhookshandler "github.com/xentri-app/xentri-api/domains/webhooks/be/handler"
	"github.com/xentri-app/xentri-api/platform/go/clerk"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/metrics"
	platformmiddleware "github.com/xentri-app/xentri-api/platform/go/middleware"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	AppDBRole       string        `env:"APP_DB_ROLE" envDefault:"xentri_app"`
	RunMigrations   bool          `env:"RUN_MIGRATIONS" envDefault:"false"`
	DBMaxConns      int32         `env:"DB_MAX_CONNS" envDefault:"0"`

	AuthProvider           string        `env:"AUTH_PROVIDER" envDefault:"clerk"` // clerk | firebase | dev
	ClerkSecretKey         string        `env:"CLERK_SECRET_KEY"`
	ClerkJWTPublicKey      string        `env:"CLERK_JWT_PUBLIC_KEY"`
	ClerkIssuer            string        `env:"CLERK_ISSUER"`
	ClerkAuthorizedParties []string      `env:"CLERK_AUTHORIZED_PARTIES" envSeparator:","`
	ClerkWebhookSecret     string        `env:"CLERK_WEBHOOK_SECRET"`
	TokenLeeway            time.Duration `env:"TOKEN_LEEWAY" envDefault:"5s"`
	FirebaseProjectID      string        `env:"FIREBASE_PROJECT_ID"`
	FirebaseConfig         string        `env:"FIREBASE_CONFIG"`
	MembershipSource       string        `env:"MEMBERSHIP_SOURCE" envDefault:"clerk"` // clerk | database

	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"120"`
	CORSOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

func loadConfig() (config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func main() {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "xentri-api",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.RunMigrations {
		if err := persistence.MigrateUp(cfg.DatabaseURL); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: "xentri-api",
		MaxConns:        cfg.DBMaxConns,
		ConnectTimeout:  30 * time.Second,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	tenantDB := persistence.NewTenantDB(persistence.TenantDBConfig{
		Pool:    pool,
		AppRole: cfg.AppDBRole,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	eventRegistry, err := schema.NewRegistry()
	if err != nil {
		logger.Fatal("init event schema registry", zap.Error(err))
	}
	eventsService := eventsservice.New(
		eventsrepo.NewPostgresRepository(persistence.NewEventStore(tenantDB)),
		eventRegistry,
		eventsservice.WithRecorder(collector),
	)

	orgsService := orgsservice.New(
		orgsrepo.NewPostgresRepository(tenantDB),
		eventsService,
		orgsservice.WithRecorder(collector),
		orgsservice.WithLogger(logger),
	)

	briefsService := briefsservice.New(
		briefsrepo.NewPostgresRepository(tenantDB),
		eventsService,
		briefsservice.WithRecorder(collector),
		briefsservice.WithLogger(logger),
	)

	webhookVerifier, err := webhookshandler.NewVerifier(cfg.ClerkWebhookSecret)
	if err != nil {
		logger.Fatal("init webhook verifier", zap.Error(err))
	}
	if webhookVerifier == nil {
		logger.Warn("CLERK_WEBHOOK_SECRET is not set; webhook deliveries will be rejected")
	}

	membership, err := buildMembershipVerifier(cfg, tenantDB)
	if err != nil {
		logger.Fatal("init membership verifier", zap.Error(err))
	}

	verify, err := buildTokenVerifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init token verifier", zap.Error(err))
	}

	limiter := platformmiddleware.NewRateLimiter(platformmiddleware.RateLimiterConfig{
		Rate:            rate.Limit(cfg.RateLimitRPS),
		Burst:           cfg.RateLimitBurst,
		CleanupInterval: 5 * time.Minute,
	}, collector)
	defer limiter.Stop()

	router, err := newRouter(routerConfig{
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		CORS:           platformmiddleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Verify:         verify,
		Membership:     membership,
		RateLimiter:    limiter,
		Metrics:        collector,
		Gatherer:       registry,
		Readiness:      pool,
		Webhooks:       webhookshandler.New(webhookVerifier, orgsService, logger),
		API: []routeRegistrar{
			eventshandler.New(eventsService, logger),
			orgshandler.New(orgsService, logger),
			briefshandler.New(briefsService, logger),
		},
	})
	if err != nil {
		logger.Fatal("build router", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.String("auth_provider", cfg.AuthProvider),
			zap.String("membership_source", cfg.MembershipSource),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildMembershipVerifier(cfg config, db *persistence.TenantDB) (tenant.MembershipVerifier, error) {
	switch cfg.MembershipSource {
	case "clerk":
		return clerk.NewMembershipClient(clerk.Config{SecretKey: cfg.ClerkSecretKey})
	case "database":
		return persistence.NewMemberDirectory(db), nil
	default:
		return nil, errors.New("MEMBERSHIP_SOURCE must be clerk or database")
	}
}
