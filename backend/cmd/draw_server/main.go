package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NainaKothari-14/drawtogether/backend/config"
	"github.com/NainaKothari-14/drawtogether/backend/internal/cache"
	"github.com/NainaKothari-14/drawtogether/backend/internal/collab"
	"github.com/NainaKothari-14/drawtogether/backend/internal/httpapi"
	"github.com/NainaKothari-14/drawtogether/backend/internal/httpapi/handlers"
	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
	"github.com/NainaKothari-14/drawtogether/backend/internal/store"
	"github.com/NainaKothari-14/drawtogether/backend/internal/ws"
)

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	logger := newLogger(cfg.Running.LogLevel)
	slog.SetDefault(logger)
	logger.Info("config loaded", "port", cfg.Running.Port, "redis", cfg.Redis.Addr != "",
		"mysql", cfg.Mysql.DSN != "", "kafka", len(cfg.Kafka.Brokers) > 0)

	var (
		relayOpt = collab.RelayOptions{Logger: logger, CanvasWidth: cfg.Board.Width, CanvasHeight: cfg.Board.Height}
		regOpt   = collab.RegistryOptions{MaxActions: cfg.Board.MaxActions, Logger: logger}
		sinks    collab.ActionSinks
		cleanup  []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// === presence mirror (Redis) ===
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		mirror := cache.NewMirror(cache.NewRedisPresence(rdb), cache.MirrorOptions{
			MemberTTL: cfg.Redis.PresenceTTL,
			CursorTTL: cfg.Redis.CursorTTL,
			Logger:    logger,
		})
		relayOpt.Mirror = mirror
		cleanup = append(cleanup, func() { _ = rdb.Close() }, mirror.Close)
	}

	// === durable snapshots (MySQL) ===
	if cfg.Mysql.DSN != "" {
		db, err := store.OpenMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		snapshots := store.NewSnapshotStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = snapshots.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatalf("migrate snapshots failed: %v", err)
		}
		gdb, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to open board catalog: %v", err)
		}
		boards := store.NewBoardStore(gdb)
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		err = boards.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatalf("migrate boards failed: %v", err)
		}

		durable := store.NewDurable(snapshots, boards, store.DurableOptions{
			Keep:   cfg.Mysql.KeepSnapshot,
			Logger: logger,
		})
		regOpt.Loader = durable
		regOpt.LoadSem = collab.NewSemaphoreControl(cfg.Mysql.Writers)
		writer := collab.NewSnapshotWriter(durable, collab.NewSemaphoreControl(cfg.Mysql.Writers), 0, logger)
		relayOpt.Snapshots = writer
		sinks = append(sinks, durable)
		cleanup = append(cleanup, func() { _ = db.Close() }, durable.Wait, writer.Wait)
	}

	// === action stream (Kafka) ===
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := collab.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		dispatcher := collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic,
			collab.NewSemaphoreControl(cfg.Kafka.Workers),
			collab.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
				Logger:      logger,
			})
		dispatcher.Start()
		sinks = append(sinks, dispatcher)
		cleanup = append(cleanup, func() { _ = producer.Close() }, dispatcher.Close)
	}
	if len(sinks) > 0 {
		relayOpt.Actions = sinks
	}

	registry := collab.NewRegistry(regOpt)
	relay := collab.NewRelay(registry, presence.NewTracker(cfg.Board.MaxParticipants), relayOpt)
	// relay first: it stops delivering before the sinks drain
	cleanup = append(cleanup, registry.Close, relay.Close)

	manager := ws.NewManager(relay, ws.Options{
		SendQueue:      cfg.WS.SendQueue,
		ReadLimit:      cfg.WS.ReadLimit,
		WriteTimeout:   cfg.WS.WriteTimeout,
		PongWait:       cfg.WS.PongWait,
		PingPeriod:     cfg.WS.PingPeriod,
		AllowedOrigins: cfg.Running.AllowedOrigins,
		Logger:         logger,
	})
	boards := handlers.NewBoards(registry, relay, handlers.BoardsOptions{
		Width:     cfg.Board.Width,
		Height:    cfg.Board.Height,
		Tolerance: cfg.Fill.Tolerance,
		Health:    func() gin.H { return gin.H{"connections": manager.Active()} },
	})

	gin.SetMode(gin.ReleaseMode)
	r := httpapi.NewRouter(httpapi.RouterOptions{
		Boards:         boards,
		WS:             manager,
		AllowedOrigins: cfg.Running.AllowedOrigins,
		AccessLog:      cfg.Running.AccessLog,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("draw server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are closed by relay.Close
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
}
