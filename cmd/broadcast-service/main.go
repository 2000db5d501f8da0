package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaronwang/coin-auction/internal/broadcast"
	"github.com/aaronwang/coin-auction/internal/config"
	"github.com/aaronwang/coin-auction/internal/logger"
	redisClient "github.com/aaronwang/coin-auction/internal/redis"
	"github.com/aaronwang/coin-auction/internal/websocket"
)

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg := loadConfig()
	log := logger.New("broadcast-service", cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("starting broadcast service")

	rdb, err := redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to Redis")
	}
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe to events of every auction using pattern matching
	subscriber := redisClient.NewSubscriber(rdb, log)
	if err := subscriber.SubscribeAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to auction events")
	}
	defer subscriber.Close()
	log.Info().Msg("subscribed to auction events")

	hub := broadcast.NewHub(log)

	// Forward Redis Pub/Sub messages to this node's observers
	go func() {
		err := subscriber.Listen(ctx, func(msg *redisClient.Message) {
			hub.PublishRaw(msg.AuctionID, msg.Payload)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("redis listener stopped")
		}
	}()

	// Watch-only sockets: bids go to the API gateway
	handler := websocket.NewHandler(hub, nil, "broadcast-service", log)
	router := handler.SetupRoutes()

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("broadcast service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down broadcast service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("broadcast service stopped")
}

// Config holds application configuration
type Config struct {
	ServerAddr    string
	LogLevel      string
	LogFormat     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8081"),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		LogFormat:     config.GetEnv("LOG_FORMAT", "json"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
	}
}
