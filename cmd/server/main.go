// Package main is the entry point for the imposition server.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/invoice-imposer/internal/api"
	"github.com/yourusername/invoice-imposer/internal/config"
	"github.com/yourusername/invoice-imposer/internal/impose"
	"github.com/yourusername/invoice-imposer/internal/storage"
	"github.com/yourusername/invoice-imposer/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Session-ID"}
	router.Use(cors.New(corsConfig))

	storageMgr, err := storage.New(cfg.StorageRoot, storage.Limits{
		MaxUploadSize:      cfg.MaxUploadSize,
		MaxZipEntries:      cfg.MaxZipEntries,
		MaxZipUncompressed: cfg.MaxZipUncompressed,
		MaxZipRatio:        cfg.MaxZipRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	redisOpt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		log.Fatalf("Failed to parse queue url: %v", err)
	}
	rdb := redis.NewClient(redisOpt)

	store := tasks.NewStore(rdb, tasks.TTLs{
		Completed: time.Duration(cfg.RecordTTLCompletedSeconds) * time.Second,
		Terminal:  time.Duration(cfg.RecordTTLTerminalSeconds) * time.Second,
	}, nil)

	layout := impose.LayoutConfig{
		PageWidthMM:  cfg.LayoutPageWidthMM,
		PageHeightMM: cfg.LayoutPageHeightMM,
		Columns:      cfg.LayoutColumns,
		Rows:         cfg.LayoutRows,
		MarginMM:     cfg.LayoutMarginMM,
		GutterMM:     cfg.LayoutGutterMM,
	}

	logger := log.Default()
	manager, err := tasks.NewManager(cfg, rdb, store, storageMgr, layout, logger)
	if err != nil {
		log.Fatalf("Failed to initialize worker manager: %v", err)
	}
	manager.StartWorkers()

	sweeper := tasks.NewSweeper(manager, time.Duration(cfg.CleanupIntervalHours)*time.Hour, time.Duration(cfg.RetentionHours)*time.Hour, logger)
	sweeper.Start()

	api.Register(router, api.Dependencies{
		Config:  cfg,
		Store:   store,
		Manager: manager,
		Sweeper: sweeper,
		Storage: storageMgr,
		Health:  api.NewHealthChecker(rdb, cfg.StorageRoot),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting server on :%s (mode: %s)", cfg.Port, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining...")

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	sweeper.Stop()
	manager.Shutdown(drainCtx)
	log.Println("Shutdown complete")
}
