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
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/food-approval-api/api/swagger"
	"github.com/noah-isme/food-approval-api/internal/handler"
	internalmiddleware "github.com/noah-isme/food-approval-api/internal/middleware"
	"github.com/noah-isme/food-approval-api/internal/models"
	"github.com/noah-isme/food-approval-api/internal/repository"
	"github.com/noah-isme/food-approval-api/internal/service"
	"github.com/noah-isme/food-approval-api/pkg/cache"
	"github.com/noah-isme/food-approval-api/pkg/config"
	"github.com/noah-isme/food-approval-api/pkg/database"
	"github.com/noah-isme/food-approval-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/food-approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/food-approval-api/pkg/middleware/requestid"
)

// @title Food Approval API
// @version 1.0.0
// @description Two-tier approval workflow for marketplace chain owners, stores, managers and foods
// @BasePath /api/v1
// @schemes http

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

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
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(db, logr); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, approval queues will not be cached", zap.Error(err))
		redisClient = nil
	}

	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.Pinger{"postgres": db}

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		repo := repository.NewCacheRepository(redisClient, logr)
		defer repo.Close() //nolint:errcheck
		cacheRepo = repo
		checks["redis"] = redisPinger{client: redisClient}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Approvals.CacheTTL, logr, cfg.Approvals.CacheEnabled && cacheRepo != nil)

	requestRepo := repository.NewApprovalRequestRepository(db)
	logRepo := repository.NewApprovalLogRepository(db)
	registry := repository.NewEntityRegistryRepository(db)
	txManager := repository.NewTxManager(db)

	validate := validator.New()
	service.RegisterApprovalValidations(validate)

	workflowSvc := service.NewApprovalWorkflowService(requestRepo, logRepo, txManager, logr,
		service.WithEntityPolicies(service.EntityPoliciesFromRegistry(registry)),
		service.WithApprovalCache(cacheSvc),
		service.WithApprovalMetrics(metricsSvc),
		service.WithApprovalValidator(validate),
	)
	querySvc := service.NewApprovalQueryService(requestRepo, logRepo, cacheSvc, service.ApprovalQueryConfig{
		CacheTTL:    cfg.Approvals.CacheTTL,
		MaxPageSize: cfg.Approvals.AuditMaxPageSize,
	}, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	approvalHandler := handler.NewApprovalHandler(workflowSvc, querySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	corsMiddleware, err := corsmiddleware.New(cfg.CORS)
	if err != nil {
		logr.Fatal("invalid cors configuration", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsMiddleware)
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokenSvc))
	api.GET("/metrics/summary", internalmiddleware.RequireRoles(models.RoleMasterReviewer), metricsHandler.Summary)

	if cfg.Approvals.Enabled {
		registerApprovalRoutes(api, approvalHandler)
	} else {
		logr.Info("approval workflow endpoints disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerApprovalRoutes(api *gin.RouterGroup, h *handler.ApprovalHandler) {
	reviewers := internalmiddleware.RequireRoles(models.RoleRegionReviewer, models.RoleMasterReviewer)
	submitters := internalmiddleware.RequireRoles(models.RoleChainOwner, models.RoleStoreManager)
	regionOnly := internalmiddleware.RequireRoles(models.RoleRegionReviewer)
	masterOnly := internalmiddleware.RequireRoles(models.RoleMasterReviewer)

	approvals := api.Group("/approvals")
	approvals.POST("", submitters, h.Submit)
	approvals.GET("/pending/region", reviewers, h.PendingRegion)
	approvals.GET("/pending/master", masterOnly, h.PendingMaster)
	approvals.GET("/audit-logs", reviewers, h.AuditLogs)
	approvals.GET("/audit-logs/export", reviewers, h.ExportAuditLogs)
	approvals.GET("/entities/:entityType/:entityId", reviewers, h.EntityHistory)
	approvals.GET("/:id", h.Get)
	approvals.POST("/:id/region/approve", regionOnly, h.RegionApprove)
	approvals.POST("/:id/region/reject", regionOnly, h.RegionReject)
	approvals.POST("/:id/master/approve", masterOnly, h.MasterApprove)
	approvals.POST("/:id/master/reject", masterOnly, h.MasterReject)
}
