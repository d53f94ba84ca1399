package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/loyalty-enrollment-api/api/swagger"
	"github.com/noah-isme/loyalty-enrollment-api/internal/handler"
	"github.com/noah-isme/loyalty-enrollment-api/internal/middleware"
	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	"github.com/noah-isme/loyalty-enrollment-api/internal/service"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/cache"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/config"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/database"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/loyalty-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/loyalty-enrollment-api/pkg/middleware/requestid"
)

// @title Loyalty Enrollment API
// @version 1.0.0
// @description Enrollment approval and loyalty card consistency engine
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Integrity.CacheTTL, logr, redisClient != nil)
	tx := service.NewSQLTransactor(db, cfg.Engine, logr, metrics)
	issuer := service.NewCardIssuer(cfg.Engine.CardNumberAttempts, metrics, logr)
	activator := service.NewActivator(issuer, logr)
	approvals := service.NewApprovalService(tx, activator, cfg.Engine, metrics, logr)
	scanner := repository.NewIntegrityRepository(db)
	integrity := service.NewIntegrityService(scanner, cacheSvc, cfg.Integrity, metrics, logr)
	reconciler := service.NewReconciliationService(tx, scanner, activator, cacheSvc, cfg.Reconcile, metrics, logr)
	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	approvalHandler := handler.NewApprovalHandler(approvals)
	opsHandler := handler.NewOperationsHandler(reconciler, integrity)
	metricsHandler := handler.NewMetricsHandler(metrics, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(auth), middleware.WithResponseMeta())

	requests := api.Group("/enrollment-requests")
	requests.POST("", middleware.RequireRoles(models.RoleBusiness, models.RoleAdmin), approvalHandler.Create)
	requests.GET("/:id", approvalHandler.Get)
	requests.POST("/:id/resolve", middleware.RequireRoles(models.RoleCustomer, models.RoleAdmin), approvalHandler.Resolve)

	ops := api.Group("/ops", middleware.RequireRoles(models.RoleAdmin))
	ops.POST("/reconciliation", opsHandler.Reconcile)
	ops.GET("/integrity", opsHandler.Integrity)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
