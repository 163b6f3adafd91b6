// Package main is the entry point for the Access Service: authorization
// decisions, role and permission management, organization feature
// toggles, and invitation-based onboarding.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/audit"
	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/authz"
	"github.com/orgware/orgware/internal/catalog"
	"github.com/orgware/orgware/internal/common/config"
	"github.com/orgware/orgware/internal/common/database"
	"github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/common/logger"
	"github.com/orgware/orgware/internal/common/middleware"
	"github.com/orgware/orgware/internal/common/tracing"
	"github.com/orgware/orgware/internal/email"
	"github.com/orgware/orgware/internal/health"
	"github.com/orgware/orgware/internal/identity"
	"github.com/orgware/orgware/internal/invitation"
	"github.com/orgware/orgware/internal/organization"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	log := logger.New()
	defer log.Sync()

	log.Info("Starting Access Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg, err := config.Load("access-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitializeSchema(context.Background()); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	var es *database.ElasticsearchClient
	if cfg.ElasticsearchURL != "" {
		es, err = database.NewElasticsearch(cfg.ElasticsearchURL)
		if err != nil {
			log.Warn("Elasticsearch unavailable, audit search disabled", zap.Error(err))
			es = nil
		}
	}

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(errors.ErrorHandler())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(otelgin.Middleware("access-service"))
	router.Use(logger.GinMiddleware(log))
	router.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	if cfg.EnableRateLimit {
		router.Use(middleware.DistributedRateLimit(redis.Client, middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Window:   time.Duration(cfg.RateLimitWindow) * time.Second,
		}, log))
	}

	healthService := health.NewService(Version, log)
	healthService.RegisterPostgres(db)
	healthService.RegisterRedis(redis)
	if es != nil {
		healthService.RegisterElasticsearch(es)
	}

	router.GET("/metrics", middleware.MetricsHandler())
	router.GET("/health", healthService.LivenessHandler())
	router.GET("/ready", healthService.ReadinessHandler())

	// Shared primitives
	passwordService := auth.NewPasswordService()
	tokenService := auth.NewTokenService(cfg.JWTSecret, redis.Client, log)

	var auditService *audit.Service
	if cfg.EnableAuditLogging {
		auditService = audit.NewService(db, es, log)
	}

	emailService := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername,
		cfg.SMTPPassword, cfg.SMTPFrom, redis, log)

	// Domain services
	identityRepo := identity.NewPostgresRepository(db)
	identityService := identity.NewService(identityRepo, passwordService, tokenService, log).
		WithAudit(auditService)

	catalogService := catalog.NewService(db, redis, log)
	orgService := organization.NewService(db, log)

	invitationRepo := invitation.NewPostgresRepository(db)
	invitationService := invitation.NewService(invitationRepo, identityRepo, passwordService,
		emailService, cfg.InviteBaseURL, log).
		WithAudit(auditService)

	engine := authz.NewEngine(catalogService, orgService, auditService, log)

	// HTTP surface
	identityHandler := identity.NewHandler(identityService)
	catalogHandler := catalog.NewHandler(catalogService)
	orgHandler := organization.NewHandler(orgService)
	invitationHandler := invitation.NewHandler(invitationService)
	authzHandler := authz.NewHandler(engine)
	auditHandler := audit.NewHandler(auditService)

	api := router.Group("/api/v1")

	public := api.Group("")
	identityHandler.RegisterPublicRoutes(public)
	invitationHandler.RegisterPublicRoutes(public)

	authed := api.Group("")
	authed.Use(authz.Authenticate(tokenService, identityRepo, log))
	identityHandler.RegisterRoutes(authed)
	catalogHandler.RegisterRoutes(authed)
	orgHandler.RegisterRoutes(authed)
	invitationHandler.RegisterRoutes(authed)
	authzHandler.RegisterRoutes(authed)

	adminOnly := api.Group("")
	adminOnly.Use(authz.Authenticate(tokenService, identityRepo, log))
	adminOnly.Use(authz.RequireRole(auth.RoleAdmin))
	if auditService != nil && es != nil {
		auditHandler.RegisterRoutes(adminOnly)
	}

	// Background email delivery
	mailCtx, stopMail := context.WithCancel(context.Background())
	go emailService.ProcessQueue(mailCtx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Access Service listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down Access Service")

	stopMail()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Error("Tracing shutdown failed", zap.Error(err))
	}

	log.Info("Access Service stopped")
}
