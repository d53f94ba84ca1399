package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	"github.com/noah-isme/loyalty-enrollment-api/internal/service"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/cache"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/config"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/database"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/logger"
)

type result struct {
	Summary *models.ReconcileSummary `json:"summary,omitempty"`
	Report  *models.IntegrityReport  `json:"report"`
}

// reconciler runs one repair pass followed by a validation and exits non-zero
// when an item failed or a violation remains. It is meant for cron jobs.
func main() {
	var (
		batchSize  int
		reportOnly bool
	)
	flag.IntVar(&batchSize, "batch-size", 0, "Items per batch (0 uses RECONCILE_BATCH_SIZE)")
	flag.BoolVar(&reportOnly, "report-only", false, "Validate without repairing anything")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	cacheSvc, closeCache := newCacheService(cfg, metrics, logr)
	defer closeCache() //nolint:errcheck
	scanner := repository.NewIntegrityRepository(db)
	// Reports are always computed fresh here.
	integrity := service.NewIntegrityService(scanner, nil, config.IntegrityConfig{}, metrics, logr)

	var out result
	if !reportOnly {
		tx := service.NewSQLTransactor(db, cfg.Engine, logr, metrics)
		activator := service.NewActivator(service.NewCardIssuer(cfg.Engine.CardNumberAttempts, metrics, logr), logr)
		reconciler := service.NewReconciliationService(tx, scanner, activator, cacheSvc, cfg.Reconcile, metrics, logr)
		out.Summary, err = reconciler.Reconcile(ctx, batchSize)
		if err != nil {
			logr.Fatal("reconciliation aborted", zap.Error(err))
		}
	}

	out.Report, err = integrity.Report(ctx)
	if err != nil {
		logr.Fatal("integrity validation failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logr.Fatal("failed to write result", zap.Error(err))
	}

	if out.Report.Total > 0 || (out.Summary != nil && out.Summary.Failed > 0) {
		stop()
		_ = closeCache()
		_ = logr.Sync()
		db.Close()
		os.Exit(1)
	}
}

// newCacheService connects to the shared report cache so a repair pass drops
// the report the API may still be serving. An unreachable Redis disables it.
func newCacheService(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*service.CacheService, func() error) {
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, cache invalidation disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	return service.NewCacheService(cacheRepo, metrics, cfg.Integrity.CacheTTL, logr, redisClient != nil), cacheRepo.Close
}
