package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"waybill-tracker/internal/core/cache"
	"waybill-tracker/internal/core/config"
	"waybill-tracker/internal/core/logger"
	"waybill-tracker/internal/core/server"
	waybilladapter "waybill-tracker/internal/features/waybill/adapters"
	waybillhandler "waybill-tracker/internal/features/waybill/handler"
	"waybill-tracker/internal/features/waybill/ports"
	"waybill-tracker/internal/features/waybill/scheduler"
	waybillservice "waybill-tracker/internal/features/waybill/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// @title Waybill Tracker API
// @version 1.0
// @description This API aggregates parcel tracking data from multiple carriers into one canonical waybill model.
// @contact.name API Support
// @contact.email support@waybilltracker.dev
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		l.Fatal("Failed to open database", zap.Error(err))
	}
	repo := waybilladapter.NewGormRepository(db)
	if err := repo.Migrate(); err != nil {
		l.Fatal("Failed to migrate database", zap.Error(err))
	}
	l.Info("Database connection verified")

	// Status cache (optional)
	var redisCache cache.Cache
	var statusCache *waybilladapter.StatusCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisAdapter(cfg.Redis.URL)
		if err != nil {
			l.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			l.Fatal("Redis ping failed", zap.Error(err))
		}
		statusCache = waybilladapter.NewStatusCache(redisCache, time.Duration(cfg.Redis.StatusTTLSeconds)*time.Second)
		l.Info("Redis connection verified")
	}

	// Carrier adapters
	sfexAdapter := waybilladapter.NewSFExAdapter(cfg.SFEx)
	emspostAdapter := waybilladapter.NewEMSPostAdapter(cfg.EMSPost)
	adapters := []ports.CarrierAdapter{sfexAdapter, emspostAdapter}
	for _, a := range adapters {
		l.Info("Carrier adapter registered",
			zap.String("carrier", string(a.Carrier())),
			zap.Bool("active", a.IsActive()),
		)
	}

	// Gateway, service, handler
	gateway := waybillservice.NewGateway(adapters, time.Duration(cfg.Scheduler.CarrierTimeoutSeconds)*time.Second)
	waybillSvc := waybillservice.NewWaybillService(gateway, repo, statusCache)
	waybillHdl := waybillhandler.NewWaybillHandler(waybillSvc)

	// Background sync
	sched := scheduler.New(gateway, repo, time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second)
	sched.Start(ctx)

	srv := server.New(cfg)

	// Register Routes
	srv.App.Get("/whereis/:id", waybillHdl.GetWhereIs)
	srv.App.Get("/status/:id", waybillHdl.GetStatus)
	srv.App.Get("/health", func(c *fiber.Ctx) error {
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Context()) != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		if redisCache != nil {
			if err := redisCache.Ping(c.Context()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	go func() {
		<-ctx.Done()
		l.Info("Shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			l.Warn("Scheduler did not stop cleanly", zap.Error(err))
		}
		if err := srv.App.Shutdown(); err != nil {
			l.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	if err := srv.Run(); err != nil {
		l.Fatal("Server failed to start", zap.Error(err))
	}
}
