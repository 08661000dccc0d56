package environment

import (
	"context"
	"log/slog"

	"orderdesk-bot/internal/config"
	"orderdesk-bot/internal/infra/discord"
	"orderdesk-bot/internal/infra/orderapi"
	"orderdesk-bot/internal/infra/sqlite3"
	"orderdesk-bot/internal/infra/telegram"
	"orderdesk-bot/internal/retry"

	"github.com/pkg/errors"
)

type Clients struct {
	SQLiteDB *sqlite3.DB
	Discord  *discord.Client
	OrderAPI *orderapi.Client
	// Telegram is nil when the staff mirror is disabled.
	Telegram *telegram.Client
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite")
	}

	retryCfg := retry.Config{
		MaxTries:        cfg.Retry.MaxTries,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}

	discordClient, err := discord.NewClient(discord.Config{
		Token:              cfg.Discord.Token,
		AutoArchiveMinutes: cfg.Threads.AutoArchiveMinutes,
		Retry:              retryCfg,
	}, logger.With("client", "discord"))
	if err != nil {
		_ = sqliteDB.Close()
		return nil, errors.Wrap(err, "discord")
	}

	orderAPI, err := orderapi.NewClient(orderapi.Config{
		BaseURL:      cfg.Backend.BaseURL,
		Secret:       cfg.Backend.Secret,
		SecretHeader: cfg.Backend.SecretHeader,
		HealthPath:   cfg.Backend.HealthPath,
		Timeout:      cfg.Backend.Timeout,
		Retry:        retryCfg,
	}, logger.With("client", "orderapi"))
	if err != nil {
		_ = sqliteDB.Close()
		return nil, errors.Wrap(err, "order backend")
	}

	telegramBot, err := provideTelegramBot(cfg, logger)
	if err != nil {
		_ = sqliteDB.Close()
		return nil, errors.Wrap(err, "telegram")
	}

	return &Clients{
		SQLiteDB: sqliteDB,
		Discord:  discordClient,
		OrderAPI: orderAPI,
		Telegram: telegramBot,
	}, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	opts := []sqlite3.Option{
		sqlite3.WithDSN(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(cfg.DB.MaxLifetime),
		sqlite3.WithBusyTimeout(cfg.DB.BusyTimeout),
	}

	return sqlite3.New(ctx, opts...)
}

func provideTelegramBot(cfg config.Config, logger *slog.Logger) (*telegram.Client, error) {
	// Зеркало в Telegram необязательно
	if !cfg.Telegram.Enabled() {
		logger.Info("Telegram mirror disabled")
		return nil, nil
	}

	return telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.AdminIDs, logger.With("client", "telegram"))
}
