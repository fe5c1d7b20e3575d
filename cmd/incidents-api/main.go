package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/hr-incidents-api/api/swagger"
	"github.com/noah-isme/hr-incidents-api/internal/handler"
	"github.com/noah-isme/hr-incidents-api/internal/middleware"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/internal/repository"
	"github.com/noah-isme/hr-incidents-api/internal/service"
	"github.com/noah-isme/hr-incidents-api/pkg/cache"
	"github.com/noah-isme/hr-incidents-api/pkg/config"
	"github.com/noah-isme/hr-incidents-api/pkg/database"
	"github.com/noah-isme/hr-incidents-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hr-incidents-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hr-incidents-api/pkg/middleware/requestid"
)

// @title HR Incidents API
// @version 1.0.0
// @description Payroll incident registration and two-stage approval chain
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The catalog cache degrades to direct reads without redis.
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	incidentRepo := repository.NewIncidentRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "hr-incidents-api",
		Audience:           []string{"hr-incidents"},
	})
	userService := service.NewUserService(userRepo, validate, logr)
	catalogService := service.NewCatalogService(catalogRepo, cacheRepo, cfg.Catalog.CacheTTL, userRepo, logr)

	sender := service.NewSMTPSender(cfg.SMTP)
	notificationService := service.NewNotificationService(sender, userRepo, cfg.Notifications, logr)

	metricsService := service.NewMetricsService()

	incidentService := service.NewIncidentService(incidentRepo, catalogService, notificationService, userRepo, cfg.Incidents, logr).
		WithMetrics(metricsService)
	exportService := service.NewExportService(incidentService, cfg.Exports, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notificationService.Start(ctx)
	defer notificationService.Stop()

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	catalogHandler := handler.NewCatalogHandler(catalogService)
	incidentHandler := handler.NewIncidentHandler(incidentService, exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

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
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authService))

	adminTier := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdministrator)

	users := protected.Group("/users")
	{
		users.GET("", adminTier, userHandler.List)
		users.POST("", adminTier, userHandler.Create)
		users.GET("/:id", middleware.RBAC("SUPERADMIN", "ADMINISTRATOR", "SELF"), userHandler.Get)
		users.PUT("/:id", adminTier, userHandler.Update)
		users.DELETE("/:id", adminTier, userHandler.Delete)
		users.GET("/:id/relations", middleware.RBAC("SUPERADMIN", "ADMINISTRATOR", "SELF"), userHandler.Relations)
		users.PUT("/:id/relations", adminTier, userHandler.UpdateRelations)
	}

	catalog := protected.Group("/catalog")
	{
		catalog.GET("", catalogHandler.List)
		catalog.GET("/:subtype", catalogHandler.Get)
		catalog.POST("", adminTier, catalogHandler.Create)
		catalog.PUT("/:subtype", adminTier, catalogHandler.Update)
		catalog.DELETE("/:subtype", adminTier, catalogHandler.Delete)
	}

	// Stage authority and read visibility live in the workflow and
	// service layers; routes only require an authenticated user.
	incidents := protected.Group("/incidents")
	{
		incidents.POST("", incidentHandler.Create)
		incidents.GET("", incidentHandler.List)
		incidents.GET("/export", middleware.Audit(userRepo, models.AuditActionIncidentExport, "incident"), incidentHandler.Export)
		incidents.GET("/:id", incidentHandler.Get)
		incidents.PUT("/:id", incidentHandler.Update)
		incidents.POST("/:id/transition", incidentHandler.Transition)
		incidents.POST("/:id/approve", incidentHandler.Approve)
		incidents.POST("/:id/reject", incidentHandler.Reject)
		incidents.PATCH("/:id/bin", incidentHandler.MoveToBin)
		incidents.PATCH("/:id/recover", incidentHandler.Recover)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
