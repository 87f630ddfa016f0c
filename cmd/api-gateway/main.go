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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/opencove/billing-api/api/swagger"
	"github.com/opencove/billing-api/internal/client"
	"github.com/opencove/billing-api/internal/handler"
	"github.com/opencove/billing-api/internal/middleware"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/internal/repository"
	"github.com/opencove/billing-api/internal/service"
	"github.com/opencove/billing-api/pkg/cache"
	"github.com/opencove/billing-api/pkg/config"
	"github.com/opencove/billing-api/pkg/database"
	"github.com/opencove/billing-api/pkg/export"
	"github.com/opencove/billing-api/pkg/jobs"
	"github.com/opencove/billing-api/pkg/logger"
	corsmiddleware "github.com/opencove/billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opencove/billing-api/pkg/middleware/requestid"
	"github.com/opencove/billing-api/pkg/storage"
)

// @title OpenCove Billing API
// @version 0.1.0
// @description Payments, installment plans, discounts and fulfillment for cohort memberships
// @BasePath /api/v1
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	metricsService := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	discountRepo := repository.NewDiscountRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr).WithMetrics(metricsService)

	// Downstream service clients.
	gatewayClient := client.NewGatewayClient(cfg.Gateway, logr)
	membersClient := client.NewMembersClient(cfg.Services.MembersURL, cfg.Services.ServiceToken, cfg.Services.Timeout, logr)
	walletClient := client.NewWalletClient(cfg.Services.WalletURL, cfg.Services.ServiceToken, cfg.Services.Timeout, logr)
	storeClient := client.NewStoreClient(cfg.Services.StoreURL, cfg.Services.ServiceToken, cfg.Services.Timeout, logr)
	attendanceClient := client.NewAttendanceClient(cfg.Services.AttendanceURL, cfg.Services.ServiceToken, cfg.Services.Timeout, logr)

	validate := validator.New()

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: 30 * 24 * time.Hour,
		Issuer:             cfg.JWT.Issuer,
	})

	notificationService := service.NewNotificationService(service.NewLogSender(logr), cfg.Notifications, logr)

	scheduleService := service.NewScheduleService(enrollmentRepo, installmentRepo, cacheRepo, cfg.Billing, logr)
	complianceService := service.NewComplianceService(enrollmentRepo, installmentRepo, attendanceClient, cfg.Billing, logr,
		service.WithComplianceNotifier(notificationService))
	discountService := service.NewDiscountService(discountRepo, logr)

	appliers := map[models.PaymentPurpose]service.EntitlementApplier{
		models.PurposeMembership:        service.NewMembershipApplier(membersClient, logr),
		models.PurposeAddon:             service.NewAddonApplier(membersClient, logr),
		models.PurposeSession:           service.NewSessionApplier(attendanceClient, logr),
		models.PurposeBundle:            service.NewBundleApplier(membersClient, logr),
		models.PurposeStoreOrder:        service.NewStoreOrderApplier(storeClient, logr),
		models.PurposeWalletTopup:       service.NewWalletTopupApplier(walletClient, logr),
		models.PurposeCohortInstallment: service.NewCohortInstallmentApplier(installmentRepo, complianceService, scheduleService, logr).
			WithTierActivation(membersClient),
	}

	fulfillmentService := service.NewFulfillmentService(paymentRepo, gatewayClient, appliers, cfg.Fulfillment, logr,
		service.WithFulfillmentMetrics(metricsService),
		service.WithFulfillmentNotifier(notificationService))

	receiptExporter := export.NewReceiptExporter("OpenCove")
	receiptStorage, err := storage.NewLocalArchive(cfg.Billing.ReceiptsDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare receipts directory", "error", err)
	}
	paymentService := service.NewPaymentService(paymentRepo, gatewayClient, discountService, receiptExporter, cfg.Billing, logr,
		service.WithReceiptArchive(receiptStorage),
		service.WithPaymentMetrics(metricsService),
		service.WithZeroBalanceSettler(fulfillmentService))

	// Background sweeps.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(rootCtx)
	defer notificationService.Stop()

	scheduler := jobs.NewScheduler(logr)
	billingJobs := service.NewBillingJobs(enrollmentRepo, installmentRepo, walletClient, notificationService,
		scheduleService, complianceService, fulfillmentService, cfg.Jobs, logr).
		WithReceiptPruner(receiptStorage)
	billingJobs.Register(scheduler)
	scheduler.Start(rootCtx)
	defer scheduler.Stop()

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	paymentHandler := handler.NewPaymentHandler(paymentService, fulfillmentService, gatewayClient, cfg.Gateway.WebhookHeader)
	discountHandler := handler.NewDiscountHandler(discountService)
	enrollmentHandler := handler.NewEnrollmentHandler(scheduleService, complianceService)
	metricsHandler := handler.NewMetricsHandler(metricsService).WithReadiness(map[string]handler.ReadyCheck{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	api.POST("/webhooks/gateway", paymentHandler.Webhook)
	api.POST("/discounts/preview", discountHandler.Preview)

	authed := api.Group("/", middleware.JWT(authService))
	{
		authed.POST("/payments/intents", paymentHandler.CreateIntent)
		authed.GET("/payments", paymentHandler.List)
		authed.GET("/payments/:reference", paymentHandler.Get)
		authed.POST("/payments/:reference/confirm", paymentHandler.Confirm)
		authed.GET("/payments/:reference/receipt", paymentHandler.Receipt)
		authed.GET("/enrollments/:id/schedule", enrollmentHandler.Schedule)
	}

	admin := api.Group("/", middleware.JWT(authService),
		middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOperator))
	{
		admin.POST("/payments/:reference/replay", paymentHandler.Replay)
		admin.GET("/discounts", discountHandler.List)
		admin.POST("/discounts", discountHandler.Create)
		admin.PATCH("/discounts/:code", discountHandler.Update)
		admin.DELETE("/discounts/:code", discountHandler.Delete)
		admin.POST("/enrollments/:id/evaluate", enrollmentHandler.Evaluate)
		admin.GET("/ops/stats", metricsHandler.Stats)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}
