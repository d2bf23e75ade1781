package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/broadcast"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/config"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-sessions/transport/rest"
	"github.com/rocketscienceinc/tictactoe-sessions/transport/websocket"
)

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	var redisStorage *storage.RedisStorage
	if conf.NeedsRedis() {
		var err error
		redisStorage, err = storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr(), conf.Redis.Password, conf.Redis.DB)
		if err != nil {
			return fmt.Errorf("could not connect to redis storage: %w", err)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()
	}

	sessionRepo, closeRepo, err := newSessionRepository(ctx, conf, redisStorage)
	if err != nil {
		return err
	}
	defer closeRepo()

	hub := newHub(logger, conf, redisStorage)

	coordinator := usecase.NewSessionCoordinator(logger, sessionRepo, hub, usecase.Options{
		OperationTimeout: conf.Game.OperationTimeout,
		ConflictRetries:  conf.Game.ConflictRetries,
		AllowSelfJoin:    conf.Game.AllowSelfJoin,
	})

	log.Info("session backends ready", "storage", conf.Storage.Backend, "broadcast", conf.Broadcast.Backend)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.New(logger, coordinator).Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if wsErr := websocket.New(logger, coordinator, hub).Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

func newSessionRepository(
	ctx context.Context, conf *config.Config, redisStorage *storage.RedisStorage,
) (repository.SessionRepository, func(), error) {
	switch conf.Storage.Backend {
	case config.BackendRedis:
		return repository.NewRedisSessionRepository(redisStorage.Connection, conf.Storage.SessionTTL), func() {}, nil
	case config.BackendSQLite:
		sqliteStorage, err := storage.NewSQLiteStorage(conf.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open sqlite storage: %w", err)
		}

		if err = sqliteStorage.Init(ctx); err != nil {
			_ = sqliteStorage.Close()
			return nil, nil, fmt.Errorf("could not init sqlite storage: %w", err)
		}

		return repository.NewSQLiteSessionRepository(sqliteStorage.Connection), func() { _ = sqliteStorage.Close() }, nil
	default:
		return repository.NewMemorySessionRepository(), func() {}, nil
	}
}

func newHub(logger *slog.Logger, conf *config.Config, redisStorage *storage.RedisStorage) broadcast.Hub {
	if conf.Broadcast.Backend == config.BackendRedis {
		return broadcast.NewRedisHub(logger, redisStorage.Connection)
	}

	return broadcast.NewLocalHub(logger)
}
