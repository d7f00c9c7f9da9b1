package main

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"GoMarketplace/internal/cart"
	"GoMarketplace/pkg/kit"
)

const startupTimeout = 30 * time.Second

func main() {
	service := "cart"
	log := kit.NewLogger(service, getenv("LOG_LEVEL", "info"))
	defer func() { _ = log.Sync() }()

	port := getenv("PORT", "8084")

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	storage, closeStorage, err := openStorage(ctx, getenv("CART_STORAGE", "memory"), log)
	if err != nil {
		log.Fatal("open storage failed", zap.Error(err))
	}
	defer closeStorage()

	reg := prometheus.NewRegistry()

	store, err := cart.Open(ctx, storage,
		cart.WithKey(getenv("CART_KEY", cart.DefaultKey)),
		cart.WithLogger(log),
		cart.WithMetrics(cart.NewMetrics(reg)),
	)
	if err != nil {
		log.Fatal("load cart failed", zap.Error(err))
	}

	h := cart.NewHandler(store, &cart.Server{Log: log}, cart.HTTPDeps{
		Log:             log,
		Service:         service,
		Registry:        reg,
		MetricsEnabled:  true,
		MetricsToken:    os.Getenv("METRICS_TOKEN"),
		RateLimitPerMin: getenvInt("RATE_LIMIT_PER_MIN", 120),
	})

	if err := kit.RunHTTPServer(":"+port, h, log, store.Close); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}

func openStorage(ctx context.Context, kind string, log *zap.Logger) (cart.Storage, func(), error) {
	switch kind {
	case "postgres":
		db, err := sql.Open("pgx", os.Getenv("DATABASE_URL"))
		if err != nil {
			return nil, nil, err
		}
		s := cart.NewPostgresStorage(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("using postgres cart storage")
		return s, func() { _ = db.Close() }, nil

	case "redis":
		s := cart.NewRedisStorage(getenv("REDIS_ADDR", "localhost:6379"))
		if err := s.WaitReady(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		log.Info("using redis cart storage")
		return s, func() { _ = s.Close() }, nil

	default:
		log.Warn("using in-memory cart storage; cart is lost on restart", zap.String("requested", kind))
		return cart.NewMemStorage(), func() {}, nil
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
