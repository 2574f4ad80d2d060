package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"crmsync/internal/client/pipedrive"
	"crmsync/internal/config"
	cronrunner "crmsync/internal/cron"
	"crmsync/internal/db"
	"crmsync/internal/handler"
	"crmsync/internal/logger"
	"crmsync/internal/models"
	gormrepository "crmsync/internal/repository/gorm"
	"crmsync/internal/service"

	_ "crmsync/docs"
)

func main() {
	cfgPath := os.Getenv("CRM_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CRM_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	if cfg.Features.VerboseLog {
		cfg.Log.Level = "debug"
	}
	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	crmHTTP := &http.Client{Timeout: cfg.Pipedrive.Timeout}
	crmClient := pipedrive.NewClient(
		crmHTTP,
		cfg.Pipedrive.BaseURL,
		cfg.Pipedrive.APIVersion,
		cfg.Pipedrive.APIToken,
		cfg.Pipedrive.Limits,
		cfg.Features.Sanitization,
	)
	store := gormrepository.New(dbConn.Gorm)

	syncService := &service.ContactSyncService{
		Store:  store,
		Client: crmClient,
		Logger: logger,
		Config: service.SyncRunnerConfig{
			BatchSize:        cfg.Sync.BatchSize,
			RunTimeout:       cfg.Sync.RunTimeout,
			BatchBaseTimeout: cfg.Sync.BatchBaseTimeout,
			BatchMaxTimeout:  cfg.Sync.BatchMaxTimeout,
		},
	}
	maxAttempts := cfg.Pipedrive.MaxRetries
	if !cfg.Features.Retries {
		maxAttempts = 1
	}
	updateService := &service.UpdateService{
		Store:          store,
		Client:         crmClient,
		Logger:         logger,
		MaxAttempts:    maxAttempts,
		RetryDelay:     cfg.Pipedrive.RetryDelay,
		RateLimitDelay: cfg.Pipedrive.RateLimitDelay,
		NoThrottle:     !cfg.Features.RateLimiting,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{
		Service: syncService,
		Updates: updateService,
		Client:  crmClient,
		Repo:    store,
		Logger:  logger,
	}
	syncHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled && cfg.Features.ScheduledSync && cfg.Cron.AccountID != "" {
		_, err = cronRunner.Add(cfg.Cron.SyncSchedule, func(ctx context.Context) {
			result, err := syncService.Run(ctx, service.RunOptions{
				AccountID: cfg.Cron.AccountID,
				SyncType:  models.SyncTypeIncremental,
			})
			if err != nil {
				logger.Warn("cron sync failed", zap.Error(err))
				return
			}
			logger.Info("cron sync ok",
				zap.Uint64("run_id", result.SyncRunID),
				zap.Int("total", result.TotalRecords),
				zap.Int("created", result.RecordsCreated),
				zap.Int("updated", result.RecordsUpdated),
				zap.Int("failed", result.RecordsFailed),
			)
		})
		if err != nil {
			logger.Warn("cron register sync failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
