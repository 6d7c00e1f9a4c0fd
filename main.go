package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/clustering"
	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/handlers"
	"github.com/freshgroup/dashboard/backend/logger"
	"github.com/freshgroup/dashboard/backend/repository"
	"github.com/freshgroup/dashboard/backend/service"
	"github.com/freshgroup/dashboard/backend/storage"
	"github.com/freshgroup/dashboard/backend/worker"
)

const (
	tokenTTL         = 12 * time.Hour
	reclusterTimeout = 5 * time.Minute
)

func main() {
	port := flag.String("port", "", "Server port (overrides PORT)")
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		// logger settings are not known yet
		panic(err)
	}
	if *port != "" {
		settings.Port = *port
	}

	log, err := logger.New(settings.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if settings.LogMode == "prod" || settings.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting student clustering backend", "port", settings.Port)

	cfg, err := config.New(settings)
	if err != nil {
		log.Fatal("Failed to initialize configuration", "error", err)
	}
	defer cfg.Close()

	opts := service.Options{
		Engine: clustering.NewEngine(clustering.Config{
			Seed:     settings.ClusterSeed,
			Restarts: settings.ClusterRestarts,
		}),
	}

	if settings.MinIO.Endpoint != "" {
		archive, err := storage.NewMinIOClient(storage.MinIOConfig{
			Endpoint:  settings.MinIO.Endpoint,
			AccessKey: settings.MinIO.AccessKey,
			SecretKey: settings.MinIO.SecretKey,
			Bucket:    settings.MinIO.Bucket,
			UseSSL:    settings.MinIO.UseSSL,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize MinIO client", "error", err)
		}
		opts.Archiver = archive
		log.Info("Archiving uploads to MinIO", "endpoint", settings.MinIO.Endpoint, "bucket", settings.MinIO.Bucket)
	} else {
		log.Warn("MINIO_ENDPOINT not set; raw uploads will not be archived")
	}

	jobs := worker.NewQueue(log, settings.ReclusterQueueSize, reclusterTimeout)
	jobs.Start()
	opts.Jobs = jobs

	svc := service.New(repository.NewRepository(cfg.DB), log, opts)
	issuer := auth.NewIssuer(settings.JWTSecret, tokenTTL)
	handler := handlers.NewHandler(svc, log, settings.UploadMaxBytes)
	router := handlers.NewRouter(handler, issuer, log, settings.CORSOrigins)

	// Create HTTP server with proper configuration
	srv := &http.Server{
		Addr:         ":" + settings.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// pending reclusters finish before the database closes
	jobs.Stop()
	log.Info("Server stopped gracefully")
}
