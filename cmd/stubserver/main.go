package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mickgian/pratiko-chat/internal/config"
	"github.com/mickgian/pratiko-chat/internal/stub"
	"github.com/mickgian/pratiko-chat/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.InitLogger()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := stub.OpenStore(cfg.StubDBDSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	usageStore := stub.NewUsageStore(rdb, cfg.Limit5hEUR, cfg.Limit7dEUR, cfg.PlanSlug, cfg.PlanName)
	srv := stub.NewServer(store, usageStore, cfg.JWTSecret, logger)

	logger.Info("stub backend listening", "addr", cfg.StubAddr)
	if err := stub.NewRouter(srv).Run(cfg.StubAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
