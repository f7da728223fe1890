package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/auth"
	"github.com/grameenconnect/portal/internal/cache"
	"github.com/grameenconnect/portal/internal/community"
	"github.com/grameenconnect/portal/internal/config"
	"github.com/grameenconnect/portal/internal/gateway"
	"github.com/grameenconnect/portal/internal/gemini"
	"github.com/grameenconnect/portal/internal/intent"
	"github.com/grameenconnect/portal/internal/market"
	"github.com/grameenconnect/portal/internal/schemes"
	"github.com/grameenconnect/portal/internal/server"
)

func main() {
	configPath := flag.String("config", "portal.yaml", "path to config file")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.Model.APIKey == "" {
		logger.Fatal("GEMINI_API_KEY is required")
	}
	if cfg.Auth.Secret == "" {
		logger.Fatal("PORTAL_AUTH_SECRET is required")
	}

	client, err := gemini.New(gemini.Config{
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Name,
		BaseURL: cfg.Model.BaseURL,
		Timeout: cfg.Model.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create model client", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisAddress != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddress})
		defer redisClient.Close()
	}

	responseCache, err := cache.New(cache.Options{
		MaxCost: cfg.Cache.MaxCostBytes,
		TTL:     cfg.Cache.TTL,
		Redis:   redisClient,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create response cache", zap.Error(err))
	}
	defer responseCache.Close()

	var offline atomic.Bool
	gw, err := gateway.New(gateway.Options{
		Model:   client,
		Store:   responseCache,
		Offline: offline.Load,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create gateway", zap.Error(err))
	}

	catalog, err := schemes.NewCatalog(nil, logger)
	if err != nil {
		logger.Fatal("failed to build scheme catalog", zap.Error(err))
	}
	defer catalog.Close()

	nc, err := community.Connect(cfg.Community.NATSAddress, logger)
	if err != nil {
		logger.Warn("community broker unavailable, running local-only", zap.Error(err))
	}
	if nc != nil {
		defer nc.Close()
	}
	board, err := community.NewBoard(nc, logger)
	if err != nil {
		logger.Fatal("failed to create community board", zap.Error(err))
	}
	defer board.Close()

	srv := server.NewServer(server.Options{
		Gateway:   gw,
		Router:    intent.NewRouter(client, logger),
		Auth:      auth.New(cfg.Auth.Secret, logger),
		Catalog:   catalog,
		Market:    market.NewBoard(logger),
		Community: board,
		Cache:     responseCache,
		Offline:   &offline,
		Logger:    logger,
	})

	r := mux.NewRouter()
	srv.SetupRoutes(r)

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      corsObj(r),
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("portal server starting", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	logger.Info("shutdown complete")
}
