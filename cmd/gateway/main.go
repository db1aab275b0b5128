package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/gateway"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/orders"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/registry"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/repository"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/ticker"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Logger Error: %v", err)
	}
	defer logger.Sync()

	cat, err := catalogue.Load(cfg.Gateway.CatalogueFile)
	if err != nil {
		logger.Fatal("Catalogue Error", zap.Error(err))
	}

	gen := ticker.NewGenerator(logger, cat, ticker.NewRealRand(time.Now().UnixNano()), ticker.RealClock{})

	var store repository.QuoteStore = repository.NopStore{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisStore := repository.NewRedisStore(rdb, cfg.Redis.TTL)
		store = redisStore

		// Warm start: continue the walk from the last mirrored quotes.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		snapshots, err := redisStore.GetSnapshots(ctx, cat.Symbols())
		cancel()
		if err != nil {
			logger.Warn("Redis warm start skipped", zap.Error(err))
		} else {
			logger.Info("Warm start", zap.Int("seeded", gen.Seed(snapshots)))
		}
	}
	defer store.Close()

	var events repository.OrderEventLog = repository.NopStore{}
	if cfg.Kafka.Enabled {
		events = repository.NewKafkaEventLog(repository.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		logger.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer events.Close()

	notifier := orders.NewNotifier(logger, gen, events, cfg.Orders.FillDelay)
	gw := gateway.New(logger, cfg.Gateway, registry.New(cat), gen, notifier, store)

	mux := http.NewServeMux()
	mux.Handle(cfg.App.Path, gw)
	mux.HandleFunc("/health", gw.HealthHandler())

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw.Start(ctx)

	go func() {
		logger.Info("Server Started",
			zap.String("port", cfg.App.Port),
			zap.String("path", cfg.App.Path),
			zap.Int("instruments", len(cat.Symbols())),
		)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by the http server.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP Shutdown Error", zap.Error(err))
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway Shutdown Error", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
