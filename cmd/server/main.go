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
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/asset"
	"github.com/rafa-canseco/TokenDistributor/internal/ledger"
	"github.com/rafa-canseco/TokenDistributor/internal/metrics"
	"github.com/rafa-canseco/TokenDistributor/internal/store"
	"github.com/rafa-canseco/TokenDistributor/internal/swap"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
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
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Genesis parameters ---
	gen := ledger.Genesis{
		Owner:           envOr("OWNER_ADDRESS", "0x00000000000000000000000000000000000000aa"),
		TokenAsset:      envOr("TOKEN_ADDRESS", "0x00000000000000000000000000000000000000bb"),
		ReflectionToken: envOr("REFLECTION_TOKEN_ADDRESS", "0x00000000000000000000000000000000000000cc"),
	}

	// --- Swap venue ---
	// Local constant-product pools. Seeded here with starter liquidity for
	// both swap-back legs; more pools can be added through the API.
	venue := swap.NewPoolVenue()
	seedStarterPools(venue, gen)

	// --- WebSocket hub ---
	wsHub := ledger.NewWSHub()
	go wsHub.Run()

	// --- Ledger engine ---
	engine, err := ledger.NewEngine(ctx, st, venue, wsHub, gen)
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	svc := ledger.NewService(engine, venue)

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
		w.Write([]byte(`{"status":"ok","service":"token-distributor"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time ledger events.
		r.Get("/ws", wsHub.HandleWS)

		svc.RegisterRoutes(r)
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
		slog.Info("token-distributor listening", "port", port)
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

	slog.Info("shutting down token-distributor...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("token-distributor stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// seedStarterPools gives both swap-back legs (token -> native,
// native -> reflection token) a pool to trade against. Pools are keyed
// by the canonical lowercase address the engine uses, so mixed-case env
// vars still route.
func seedStarterPools(venue *swap.PoolVenue, gen ledger.Genesis) {
	tokenAsset, err := asset.ParseAddress(gen.TokenAsset)
	if err != nil {
		slog.Error("invalid TOKEN_ADDRESS", "err", err)
		os.Exit(1)
	}
	rewardAsset, err := asset.ParseAddress(gen.ReflectionToken)
	if err != nil {
		slog.Error("invalid REFLECTION_TOKEN_ADDRESS", "err", err)
		os.Exit(1)
	}

	tokenReserve := decimal.New(5, 26)  // 500M tokens
	nativeReserve := decimal.New(1, 24) // 1M native units
	rewardReserve := decimal.New(1, 25) // 10M reward tokens

	if err := venue.SeedPool(tokenAsset, asset.Native, tokenReserve, nativeReserve); err != nil {
		slog.Error("seed token/native pool failed", "err", err)
		os.Exit(1)
	}
	if err := venue.SeedPool(asset.Native, rewardAsset, nativeReserve, rewardReserve); err != nil {
		slog.Error("seed native/reward pool failed", "err", err)
		os.Exit(1)
	}
}
