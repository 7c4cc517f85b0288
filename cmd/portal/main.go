package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/classdesk/classdesk-portal/config"
	"github.com/classdesk/classdesk-portal/internal/authclient"
	"github.com/classdesk/classdesk-portal/internal/flow"
	"github.com/classdesk/classdesk-portal/internal/handlers"
	"github.com/classdesk/classdesk-portal/internal/middleware"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/repository"
	"github.com/classdesk/classdesk-portal/internal/services"
	"github.com/classdesk/classdesk-portal/internal/store"
	"github.com/classdesk/classdesk-portal/pkg/db"
	"github.com/classdesk/classdesk-portal/pkg/httpclient"
	"github.com/classdesk/classdesk-portal/pkg/logger"
	"github.com/classdesk/classdesk-portal/pkg/metrics"
	"github.com/classdesk/classdesk-portal/pkg/profiling"
	"github.com/classdesk/classdesk-portal/pkg/tracing"
)

// registerAuthRoutes registers the identity API endpoints.
func registerAuthRoutes(
	group *gin.RouterGroup,
	loginRateLimiter, generalRateLimiter *middleware.RateLimiter,
	authHandler *handlers.AuthHandler,
	authService *services.AuthService,
) {
	auth := group.Group("/auth")
	auth.POST("/login/:role", loginRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), authHandler.Login)
	auth.POST("/2fa/verify", loginRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), authHandler.VerifyTwoFactor)
	auth.POST("/refresh", generalRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), authHandler.Refresh)
	auth.POST("/password/forgot", loginRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), authHandler.ForgotPassword)
	auth.POST("/password/set", loginRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), middleware.OptionalSessionMiddleware(authService.TokenManager()), authHandler.SetPassword)
	auth.POST("/logout", generalRateLimiter.Middleware(), middleware.OptionalSessionMiddleware(authService.TokenManager()), authHandler.Logout)
	auth.GET("/me", generalRateLimiter.Middleware(), middleware.SessionAuthMiddleware(authService.TokenManager()), authHandler.Me)
}

// registerGatewayRoutes registers the flow and shell endpoints that drive the
// dashboard's login experience.
func registerGatewayRoutes(
	group *gin.RouterGroup,
	cfg *config.Config,
	flowRateLimiter, generalRateLimiter *middleware.RateLimiter,
	flowHandler *handlers.FlowHandler,
	shellHandler *handlers.ShellHandler,
) {
	clientID := middleware.ClientIDMiddleware(cfg.IsProduction())

	fl := group.Group("/flow", clientID)
	fl.GET("/state", generalRateLimiter.Middleware(), flowHandler.State)
	fl.POST("/portal", generalRateLimiter.Middleware(), flowHandler.ChoosePortal)
	fl.POST("/login", flowRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), flowHandler.Login)
	fl.POST("/2fa/verify", flowRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), flowHandler.VerifyTwoFactor)
	fl.POST("/password/forgot", flowRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), flowHandler.ForgotPassword)
	fl.POST("/password/set", flowRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), flowHandler.SetPassword)
	fl.POST("/register", generalRateLimiter.Middleware(), flowHandler.ShowRegister)
	fl.POST("/register/complete", flowRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(16*1024), flowHandler.CompleteRegister)
	fl.POST("/verify-account", generalRateLimiter.Middleware(), flowHandler.VerifyAccount)
	fl.POST("/sessions", generalRateLimiter.Middleware(), flowHandler.ShowSessions)
	fl.POST("/school-selector", generalRateLimiter.Middleware(), flowHandler.ShowSchoolSelector)
	fl.POST("/school-login", generalRateLimiter.Middleware(), flowHandler.SchoolLogin)
	fl.POST("/back", generalRateLimiter.Middleware(), flowHandler.Back)
	fl.POST("/back-to-portal", generalRateLimiter.Middleware(), flowHandler.BackToPortal)
	fl.POST("/logout", generalRateLimiter.Middleware(), flowHandler.Logout)
	fl.PUT("/breadcrumb", generalRateLimiter.Middleware(), flowHandler.SetBreadcrumb)

	sh := group.Group("/shell", clientID)
	sh.GET("/route", generalRateLimiter.Middleware(), shellHandler.Route)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	err = logger.Initialize(logger.Config{
		Level:       cfg.Logging.Level,
		LogDir:      cfg.Logging.Dir,
		Environment: cfg.Server.AppEnv,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting ClassDesk portal gateway",
		zap.String("version", cfg.Observability.ServiceVersion),
		zap.String("environment", cfg.Server.AppEnv),
	)

	tracerShutdown, err := tracing.InitTracer(
		cfg.Observability.ServiceName,
		cfg.Observability.ServiceNamespace,
		cfg.Observability.ServiceVersion,
		cfg.Observability.ServiceInstanceID,
		cfg.Server.AppEnv,
		cfg.Observability.ExporterEndpoint,
	)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tracerShutdown(ctx); shutdownErr != nil {
			logger.Error("Failed to shutdown tracer", zap.Error(shutdownErr))
		}
	}()

	profilerStop, err := profiling.InitProfiler(profiling.Config{
		Enabled:               cfg.Profiling.Enabled,
		Endpoint:              cfg.Profiling.Endpoint,
		AppName:               cfg.Profiling.AppName,
		SampleTypes:           cfg.Profiling.SampleTypes,
		UploadIntervalSeconds: cfg.Profiling.UploadIntervalSeconds,
	}, cfg.Observability.ServiceName, cfg.Server.AppEnv)
	if err != nil {
		logger.Fatal("Failed to initialize profiler", zap.Error(err))
	}
	defer profilerStop()

	metrics.RecordInfrastructureMetrics()

	pool, err := db.NewPool(context.Background(), db.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		logger.Fatal("Failed to initialize database connection pool", zap.Error(err))
	}
	defer pool.Close()

	// NOTE: Database migrations are run separately via the migrate command.

	httpClient := httpclient.NewStandardClient()

	// Identity side: repositories, auth service, handlers.
	userRepo := repository.NewUserRepository(pool)
	loginSessionRepo := repository.NewLoginSessionRepository(pool)
	authService := services.NewAuthService(userRepo, loginSessionRepo, cfg, httpClient)
	authHandler := handlers.NewAuthHandler(authService)

	// Gateway side: the two storage tiers, the auth client and the flow
	// manager. The auth client talks to this same process by default.
	durableTier := store.NewFileTier(cfg.Gateway.StateDir, "client_state.json")
	tabTier := store.NewMemoryTier(time.Duration(cfg.Gateway.TabTTLMinutes) * time.Minute)
	authAPI := authclient.New(cfg.Gateway.AuthBaseURL, httpClient)
	flowManager := flow.NewManager(
		durableTier,
		tabTier,
		authAPI,
		time.Duration(cfg.Gateway.LoginSuccessDelayMillis)*time.Millisecond,
	)
	flowManager.SetSuccessCallback(func(clientID string, role models.Role) {
		logger.Info("Login flow completed",
			zap.String("client_id", clientID),
			zap.String("role", string(role)))
	})
	defer flowManager.Close()

	flowHandler := handlers.NewFlowHandler(flowManager)
	shellHandler := handlers.NewShellHandler(flowManager)
	healthHandler := handlers.NewHealthHandler(func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil
	})

	// Abandoned two-factor sessions are pruned in the background.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				authService.PruneExpiredSessions(pruneCtx)
			}
		}
	}()

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	router.Use(middleware.ObservabilityMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	allowedOrigins := cfg.Server.AllowedOrigins
	if cfg.IsDevelopment() {
		allowedOrigins = append(allowedOrigins, "http://localhost:3000", "http://127.0.0.1:3000")
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "traceparent", "tracestate"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true, // Required for the client-id cookie
		MaxAge:           12 * time.Hour,
	}))

	generalRateLimiter := middleware.NewRateLimiter(100, 200) // 100 req/sec, burst of 200
	loginRateLimiter := middleware.NewRateLimiter(1, 5)       // 1 req/sec, burst of 5 (credential stuffing)
	flowRateLimiter := middleware.NewRateLimiter(2, 5)        // flow submits are user-paced

	api := router.Group("/api")
	api.GET("/healthcheck", generalRateLimiter.Middleware(), healthHandler.Healthcheck)
	api.GET("/metrics", generalRateLimiter.Middleware(), gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	registerAuthRoutes(v1, loginRateLimiter, generalRateLimiter, authHandler, authService)
	registerGatewayRoutes(v1, cfg, flowRateLimiter, generalRateLimiter, flowHandler, shellHandler)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("Server started", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
