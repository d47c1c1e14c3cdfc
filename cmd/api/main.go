package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sjperalta/fintera-sign-api/docs" // Swagger docs
	"github.com/sjperalta/fintera-sign-api/internal/chainlock"
	"github.com/sjperalta/fintera-sign-api/internal/config"
	"github.com/sjperalta/fintera-sign-api/internal/database"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/handlers"
	"github.com/sjperalta/fintera-sign-api/internal/jobs"
	"github.com/sjperalta/fintera-sign-api/internal/keys"
	"github.com/sjperalta/fintera-sign-api/internal/middleware"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/sjperalta/fintera-sign-api/internal/storage"
	"github.com/sjperalta/fintera-sign-api/internal/tsa"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// @title Fintera Sign API
// @version 1.0
// @description Electronic signature requests with a tamper evident audit trail

// @host localhost:8081
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Setup(cfg.Environment)

	// Sentry (GlitchTip) when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	if cfg.ResendAPIKey == "" || cfg.FromEmail == "" {
		logger.Warn("Resend email disabled: RESEND_API_KEY or FROM_EMAIL not set. Email signing links will be recorded as failed sends.")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	store, err := storage.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	keyProvider, err := keys.NewHKDFProvider(cfg.MasterKey, keys.DefaultCacheSize)
	if err != nil {
		logger.Error("Failed to initialize key provider", "error", err)
		os.Exit(1)
	}

	var (
		redisClient  *redis.Client
		locker       chainlock.Locker = chainlock.NewLocalLocker()
		limiter      middleware.RateLimiter
		localLimiter *middleware.LocalRateLimiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		locker = chainlock.NewRedisLocker(redisClient, 10*time.Second)
		limiter = middleware.NewRedisRateLimiter(redisClient, cfg.PublicRateLimitPerMinute)
		logger.Info("Using Redis for chain locks and rate limiting")
	} else {
		localLimiter = middleware.NewLocalRateLimiter(cfg.PublicRateLimitPerMinute, 0)
		limiter = localLimiter
		logger.Warn("REDIS_URL not set: chain locks and rate limits are local to this instance")
	}

	var authority tsa.Authority = tsa.LocalClock{}
	if cfg.TSAURL != "" {
		authority = tsa.NewClient(cfg.TSAURL, cfg.TSATimeout())
	} else {
		logger.Warn("TSA_URL not set: signatures get unverified local timestamps")
	}

	geo := geoip.NewResolver(cfg.GeoIPDBPath)
	defer geo.Close()

	repos := repository.NewRepositories(db)

	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info(fmt.Sprintf("Started background worker with %d goroutines", cfg.WorkerCount))

	svcs := services.NewServices(repos, worker, cfg, services.Infrastructure{
		Locker:    locker,
		Geo:       geo,
		Authority: authority,
		Keys:      keyProvider,
		Blobs:     store,
	})
	svcs.Job.StartSchedules()
	if localLimiter != nil {
		worker.ScheduleEvery(10*time.Minute, func(ctx context.Context) error {
			localLimiter.Sweep(10 * time.Minute)
			return nil
		})
	}

	deps := []handlers.DependencyCheck{{Name: "database", Check: database.Ping(db)}}
	if redisClient != nil {
		deps = append(deps, handlers.DependencyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	h := handlers.NewHandlers(svcs, deps...)
	router := setupRouter(h, cfg, limiter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Drains queued audit appends before the database closes
	worker.Shutdown()
	logger.Info("Background worker stopped")

	if redisClient != nil {
		_ = redisClient.Close()
	}
	database.Close(db)

	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, limiter middleware.RateLimiter) *gin.Engine {
	router := gin.New()

	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.Health.Index)

		v1.POST("/auth/login", h.Auth.Login)

		// Public signing links, authorized by short id and access key
		sign := v1.Group("/sign-requests/:shortId")
		sign.Use(middleware.RateLimit(limiter))
		{
			sign.GET("", h.PublicSign.Show)
			sign.PUT("", h.PublicSign.Sign)
			sign.GET("/document", h.PublicSign.Document)
			sign.POST("/verify", h.PublicSign.Verify)
		}

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTSecret))
		{
			requests := protected.Group("/signature-requests")
			{
				requests.POST("", h.SignatureRequest.Create)
				requests.GET("", h.SignatureRequest.Index)
				requests.GET("/:id", h.SignatureRequest.Show)
				requests.PATCH("/:id", h.SignatureRequest.Update)
				requests.DELETE("/:id", h.SignatureRequest.Delete)

				requests.GET("/:id/audit", h.Audit.Show)
				requests.GET("/:id/audit/verify", h.Audit.Verify)
				requests.GET("/:id/audit/certificate.pdf", h.Audit.Certificate)
				requests.GET("/:id/audit/export.xlsx", h.Audit.ExportXLSX)
				requests.GET("/:id/audit/export.csv", h.Audit.ExportCSV)
				requests.GET("/:id/audit/legacy", h.Audit.Legacy)
				requests.POST("/:id/audit/migrate-legacy", h.Audit.MigrateLegacy)
			}

			admin := protected.Group("/jobs")
			admin.Use(middleware.RequireAdmin())
			{
				admin.GET("/status", h.Job.Status)
				admin.POST("/expiry-sweep", h.Job.SweepExpired)
			}
		}
	}

	return router
}
