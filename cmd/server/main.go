package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/api"
	"github.com/cdex/paper-engine/internal/book"
	"github.com/cdex/paper-engine/internal/engine"
	"github.com/cdex/paper-engine/internal/feed"
	"github.com/cdex/paper-engine/internal/metrics"
	"github.com/cdex/paper-engine/internal/risk"
	"github.com/cdex/paper-engine/internal/store"
	"github.com/cdex/paper-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		fs, err := store.NewFileStore(dataDir)
		if err != nil {
			slog.Error("file store init failed", "dir", dataDir, "err", err)
			os.Exit(1)
		}
		st = fs
		slog.Info("using local file store", "dir", dataDir)
	}

	// Wrap with Redis cache if configured.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Price feed ---
	feedOpts := []feed.Option{}
	if url := os.Getenv("FEED_URL"); url != "" {
		feedOpts = append(feedOpts, feed.WithURL(url))
	}
	if os.Getenv("SYNTHETIC_ONLY") == "true" {
		feedOpts = append(feedOpts, feed.SyntheticOnly())
	}
	priceFeed := feed.New(feed.DefaultAssets(), feedOpts...)
	priceFeed.Start(ctx)

	// --- Wallet, book, risk limits ---
	initialBalance := decimal.NewFromInt(50000)
	if raw := os.Getenv("INITIAL_BALANCE"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil && v.IsPositive() {
			initialBalance = v
		}
	}

	ledger := wallet.NewLedger(initialBalance, "CSPR")
	positions := book.New()
	limiter := risk.NewLimiter(100, decimal.NewFromInt(500000), decimal.NewFromInt(2000000))

	// --- Engine ---
	eng := engine.New(ledger, positions, limiter, st, priceFeed)
	eng.Load(ctx)
	eng.StartRewardAccrual(ctx, time.Minute)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// Bridge feed ticks to connected clients with the running P&L total.
	updates, unsubscribe := priceFeed.Subscribe()
	defer unsubscribe()
	go func() {
		for u := range updates {
			portfolio := eng.Portfolio()
			wsHub.Broadcast(api.WSMessage{
				Type:          "price_update",
				AssetID:       u.AssetID,
				Symbol:        u.Symbol,
				Price:         u.Price.String(),
				Source:        string(priceFeed.Status()),
				UnrealizedPnL: portfolio.UnrealizedPnL.String(),
				Timestamp:     u.Timestamp.Format(time.RFC3339Nano),
			})
		}
	}()

	// --- API service ---
	svc := api.NewService(eng, priceFeed, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port, "feed", priceFeed.Status())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	eng.StopRewardAccrual()
	priceFeed.Close()
	stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
