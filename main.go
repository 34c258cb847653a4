package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"image-sentiment-pipeline/config"
	"image-sentiment-pipeline/database"
	"image-sentiment-pipeline/handlers"
	"image-sentiment-pipeline/imagecache"
	"image-sentiment-pipeline/metrics"
	"image-sentiment-pipeline/middleware"
	"image-sentiment-pipeline/rabbitmq"
	"image-sentiment-pipeline/sentiment"
	"image-sentiment-pipeline/service"
	"image-sentiment-pipeline/storage"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if cfg.OpenAIAPIKey == "" && len(cfg.TokenAllowList) > 0 {
		log.Fatal("OPENAI_API_KEY is required when TOKEN_ALLOW_LIST is set")
	}

	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	// Initialize collaborators
	store := storage.NewStore(db, cfg.StorageBaseURL)
	resolver := imagecache.NewResolver(db, store)
	scorer := sentiment.NewClient(cfg.ClassifierURL, cfg.ClassifierModel)

	// Initialize dispatch queue publisher; analysis still works without it
	var queue service.Queue
	var queueCheck handlers.QueueChecker
	publisher, err := rabbitmq.NewPublisher(
		cfg.RabbitMQ.GetAMQPURL(),
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.RoutingKey,
	)
	if err != nil {
		log.Warnf("Failed to initialize RabbitMQ publisher, continuing without dispatch: %v", err)
	} else {
		queue = publisher
		queueCheck = publisher
		defer publisher.Close()
	}

	// Initialize service and handlers
	svc := service.NewService(cfg, db, resolver, scorer, queue)
	h := handlers.NewHandlers(cfg, db, svc, store, queueCheck)

	// Register metrics
	metrics.Register()

	// Setup HTTP server
	router := gin.Default()
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	api := router.Group("/api/v3")
	{
		api.GET("/health", h.HealthCheck)
		api.POST("/analyze", h.SubmitAnalysis)
		api.GET("/analysis/:id", h.GetAnalysis)
		api.GET("/images/:id", h.GetImage)
		api.GET("/stats", h.GetStats)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
