package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"agromind-sense/internal/config"
	httpapi "agromind-sense/internal/http"
	"agromind-sense/internal/logger"
	"agromind-sense/internal/mqtt"
	"agromind-sense/internal/repository"
	"agromind-sense/internal/resolver"
	"agromind-sense/internal/service"
	"agromind-sense/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "agromind-sense")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := openPostgres(cfg)
	if err != nil {
		log.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	kv := store.NewRedisKV(redisClient)

	var publisher mqtt.Publisher
	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.NewClient(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Fatal("mqtt connection failed", zap.Error(err))
		}
		defer broker.Disconnect()
		publisher = broker
	} else {
		log.Warn("mqtt disabled, config publishes will be dropped")
		publisher = dropPublisher{log}
	}

	sensorsRepo := repository.NewPostgresSensorsRepo(db, log)
	readingsRepo := repository.NewPostgresReadingsRepo(db, log)
	aggRepo := repository.NewPostgresDailyAggRepo(db, log, cfg.TxMaxRetries)
	configsRepo := repository.NewPostgresConfigsRepo(db, log)
	authRepo := repository.NewPostgresAuthRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db, log)

	res := resolver.New(sensorsRepo, kv, log)
	ingestSvc := service.NewIngestService(res, readingsRepo, aggRepo, cfg.RawRetentionDays, log)
	controlSvc := service.NewControlPlaneService(sensorsRepo, configsRepo, publisher, log)
	maintSvc := service.NewMaintenanceService(readingsRepo, statsRepo, log)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Ingest:    httpapi.NewIngestHandler(ingestSvc, log),
		Query:     httpapi.NewQueryHandler(res, sensorsRepo, readingsRepo, aggRepo, log),
		Admin:     httpapi.NewAdminHandler(controlSvc, maintSvc, log),
		Auth:      authRepo,
		IngestKey: cfg.IngestAPIKey,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown incomplete", zap.Error(err))
	}
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// dropPublisher stands in for the broker when MQTT is disabled in dev.
type dropPublisher struct {
	log *zap.Logger
}

func (d dropPublisher) PublishRetained(topic string, qos byte, payload []byte, timeout time.Duration) error {
	d.log.Warn("dropping retained publish, mqtt disabled", zap.String("topic", topic))
	return nil
}
