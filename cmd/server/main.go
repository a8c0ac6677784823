package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/ledgerboard/internal/config"
	"github.com/terminal-bench/ledgerboard/internal/feed"
	"github.com/terminal-bench/ledgerboard/internal/gateway"
	"github.com/terminal-bench/ledgerboard/internal/leaderboard"
	"github.com/terminal-bench/ledgerboard/internal/ledger"
	"github.com/terminal-bench/ledgerboard/internal/submission"
	"github.com/terminal-bench/ledgerboard/internal/verify"
	"github.com/terminal-bench/ledgerboard/pkg/messaging"
	"github.com/terminal-bench/ledgerboard/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Failed to reach database: %v", err)
	}
	cancel()

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Redis is optional; without it the cache is a no-op and the rate
	// limiter falls back to an in-process window.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	store := leaderboard.NewStore(db, leaderboard.NewCache(rdb))
	if err := store.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	verifier := verify.New(verify.Config{
		Client: ledger.NewClient(ledger.Config{
			BaseURL: cfg.LedgerURL,
			Timeout: cfg.LedgerTimeout,
		}),
		Treasury:    cfg.TreasuryAddress,
		AssetCode:   cfg.AssetCode,
		AssetIssuer: cfg.AssetIssuer,
	})

	// The websocket feed always runs. With NATS it relays broker events so
	// every replica sees every accepted score; without a broker the pipeline
	// publishes straight into it.
	scoreFeed := feed.New()

	var publisher submission.Publisher = scoreFeed
	if cfg.NATSUrl != "" {
		msgClient, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSUrl,
			Name:           "ledgerboard",
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer msgClient.Close()

		if err := scoreFeed.Attach(msgClient); err != nil {
			log.Fatalf("Failed to subscribe to score events: %v", err)
		}
		publisher = msgClient
	}

	var recorder *metrics.Recorder
	if cfg.InfluxURL != "" {
		recorder = metrics.NewRecorder(metrics.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		defer recorder.Close()
	}

	pipeline := submission.New(verifier, store, publisher, recorder)
	limiter := gateway.NewLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow)

	gw := gateway.NewGateway(gateway.Config{
		AllowedOrigins:  cfg.AllowedOrigins,
		AdminJWTSecret:  cfg.AdminJWTSecret,
		RateLimitWindow: cfg.RateLimitWindow,
	}, pipeline, store, limiter, scoreFeed)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scoreFeed.Run(gctx)
	})

	g.Go(func() error {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}
