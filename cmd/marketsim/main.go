package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/marketsim/exchange/api"
	"github.com/marketsim/exchange/cache"
	"github.com/marketsim/exchange/config"
	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/marketdata"
	"github.com/marketsim/exchange/persistence"
	"github.com/marketsim/exchange/ratelimit"
	"github.com/marketsim/exchange/settlement"
	"github.com/marketsim/exchange/websocket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger := logging.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence is optional: without it the market runs purely in memory.
	var store *persistence.PostgresStore
	var journal *persistence.SafeJournal
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.WithField("error", err.Error()).Fatal("Failed to open database")
		}
		defer db.Close()

		store = persistence.NewPostgresStore(db)
		store.SetRetryConfig(cfg.Database.MaxRetries, cfg.Database.RetryDelay)

		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.EnsureSchema(schemaCtx); err != nil {
			cancel()
			logger.WithField("error", err.Error()).Fatal("Failed to ensure database schema")
		}
		cancel()

		journal = persistence.NewSafeJournal(store,
			cfg.Journal.QueueSize, cfg.Journal.MaxRetries, cfg.Journal.RetryInterval)
		defer journal.Stop()
	}

	var redisCache *cache.RedisCache
	keys := cache.NewKeyBuilder("marketsim")
	if cfg.Redis.Enabled {
		cacheConfig := cache.DefaultRedisCacheConfig()
		cacheConfig.Host = cfg.Redis.Host
		cacheConfig.Port = cfg.Redis.Port
		cacheConfig.Password = cfg.Redis.Password
		cacheConfig.DB = cfg.Redis.DB
		cacheConfig.PoolSize = cfg.Redis.PoolSize

		redisCache, err = cache.NewRedisCache(cacheConfig)
		if err != nil {
			logger.WithField("error", err.Error()).Warn("Redis unavailable, continuing without cache")
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	ledger := settlement.NewLedger()

	var journalIface engine.Journal
	if journal != nil {
		journalIface = journal
	}
	market := engine.NewMarket(ctx, ledger, ledger, journalIface)
	defer market.Shutdown()

	hub := websocket.NewHub()
	go hub.Run()

	feed := marketdata.NewFeed()
	feed.AddPublisher(hub)
	if redisCache != nil {
		feed.AddPublisher(cache.NewFeedPublisher(redisCache, keys))
	}

	hub.SetSnapshotProvider(websocket.NewSnapshotProvider(feed, store))

	router := api.NewRouter(api.Deps{
		Market: market,
		Ledger: ledger,
		Feed:   feed,
		Store:  store,
		Cache:  redisCache,
		Keys:   keys,
		Hub:    hub,
		RateLimitConfig: ratelimit.Config{
			MaxTokens:            cfg.RateLimit.MaxTokens,
			RefillRate:           cfg.RateLimit.RefillRate,
			RefillInterval:       cfg.RateLimit.RefillInterval,
			KeyPrefix:            "ratelimit:",
			ConservativeFallback: cfg.RateLimit.ConservativeFallback,
			WhitelistedKeys: []string{
				"shareholder:market-maker-1",
				"ip:127.0.0.1",
			},
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.LogServerStarted(cfg.Port, map[string]bool{
			"database":  store != nil,
			"redis":     redisCache != nil,
			"streaming": true,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err.Error()).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("HTTP server shutdown failed")
	}

	logger.Info("Market simulator stopped")
}
