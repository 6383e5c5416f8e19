package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cityflow/traffic-classifier/classifier"
	"cityflow/traffic-classifier/config"
	"cityflow/traffic-classifier/handlers"
	"cityflow/traffic-classifier/inference"
	"cityflow/traffic-classifier/middleware"
	"cityflow/traffic-classifier/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	issueToken = flag.String("issue-token", "", "print a bearer token for this client name and exit")
	preload    = flag.Bool("preload", false, "load the model at startup instead of on the first prediction")

	log = logrus.WithField("module", "api")
)

func main() {
	flag.Parse()
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		log.Fatalf("%v", err)
	}

	authService := services.NewAuthService(cfg.JWT)
	if *issueToken != "" {
		token, err := authService.GenerateToken(*issueToken, "viewer")
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := classifier.OpenStore(ctx, cfg.Artifact.Path, classifier.S3Config{
		Endpoint:  cfg.Artifact.S3Endpoint,
		Region:    cfg.Artifact.S3Region,
		Bucket:    cfg.Artifact.S3Bucket,
		Key:       cfg.Artifact.S3Key,
		AccessKey: cfg.Artifact.S3AccessKey,
		SecretKey: cfg.Artifact.S3SecretKey,
	})
	if err != nil {
		log.Fatalf("artifact store init failed: %v", err)
	}
	predictor := inference.NewService(store)
	if *preload {
		if _, err := predictor.GetOrLoad(ctx); err != nil {
			log.Warnf("serving without a model: %v", err)
		}
	}

	// History and cache are optional: predictions are served without them.
	history := services.NewHistoryService(openDatabase(cfg.Database))
	if err := history.Migrate(); err != nil {
		log.Fatalf("failed to migrate prediction history: %v", err)
	}

	cache, err := services.NewCacheService(cfg.Redis)
	if err != nil {
		log.Warnf("redis unavailable, running without cache and live feed: %v", err)
	}
	defer cache.Close()

	router := newRouter(cfg, predictor, cache, history, authService)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("starting server on %s (auth required: %v)", addr, cfg.Server.AuthRequired)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
}

func newRouter(cfg *config.Config, predictor handlers.Predictor, cache *services.CacheService, history handlers.History, authService *services.AuthService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.SetupCORS(cfg.CORS))

	router.GET("/health", handlers.Health(predictor))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/predictions", handlers.LivePredictions(cache, authService))

	ttl := time.Duration(cfg.Redis.CacheTTLSeconds) * time.Second
	predictions := handlers.NewPredictionHandler(predictor, cache, history, ttl)

	api := router.Group("/api/v1")
	api.GET("/schema", handlers.GetSchema)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(authService, cfg.Server.AuthRequired))
	protected.POST("/predict", predictions.Predict)
	protected.GET("/predictions", handlers.NewHistoryHandler(history).GetPredictions)

	return router
}

// openDatabase connects to Postgres, or returns nil when it cannot so the
// API still serves predictions.
func openDatabase(cfg config.DatabaseConfig) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Warnf("database unavailable, prediction history disabled: %v", err)
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warnf("failed to get sql db handle: %v", err)
		return nil
	}
	if err := sqlDB.Ping(); err != nil {
		log.Warnf("database ping failed, prediction history disabled: %v", err)
		return nil
	}
	return db
}
