package environment

import (
	"context"
	"fmt"
	"log/slog"

	"orderdesk-bot/internal/config"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type closer func()

type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Servers  *Servers
	Clients  *Clients
	Services *Services

	Closers []closer
}

// Setup wires the application; ctx bounds every gateway handler it installs.
func Setup(ctx context.Context) (*Env, error) {
	// Загружаем .env файл если он существует (игнорируем ошибки - файл может не существовать)
	_ = godotenv.Load()

	var cfg config.Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("env processing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var e Env

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("initLogger: %w", err)
	}

	clients, err := newClients(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("newClients: %w", err)
	}

	services, err := newServices(ctx, clients, &cfg, logger)
	if err != nil {
		_ = clients.SQLiteDB.Close()
		return nil, fmt.Errorf("newServices: %w", err)
	}

	servers := newServers(ctx, cfg, logger, clients, services)

	e.Servers = servers
	e.Config = &cfg
	e.Logger = logger
	e.Clients = clients
	e.Services = services
	e.Closers = []closer{
		services.DetachRouter,
		func() {
			if err := clients.SQLiteDB.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		},
	}

	return &e, nil
}
