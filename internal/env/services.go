package environment

import (
	"context"
	"log/slog"

	"orderdesk-bot/internal/config"
	"orderdesk-bot/internal/discord"
	"orderdesk-bot/internal/locks"
	"orderdesk-bot/internal/messages"
	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/storage"
	"orderdesk-bot/internal/stories/dispatch"
	"orderdesk-bot/internal/stories/notify"
	"orderdesk-bot/internal/stories/orders"
	"orderdesk-bot/internal/stories/threads"
	"orderdesk-bot/internal/workers"
	"orderdesk-bot/internal/workers/healthcheck"
	"orderdesk-bot/internal/workers/keepalive"
	"orderdesk-bot/internal/workers/pendingsweep"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type Services struct {
	Metrics    *metrics.Metrics
	Dispatcher *dispatch.Service
	Router     *discord.Router
	Health     *healthcheck.Worker
	Workers    *workers.Manager

	detach func()
}

func newServices(ctx context.Context, clients *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	var s Services

	s.Metrics = metrics.New(prometheus.DefaultRegisterer)

	texts, err := messages.NewTexts()
	if err != nil {
		return nil, errors.Wrap(err, "load message texts")
	}
	format := messages.NewFormatter(texts)

	// Создаем storage и таблицы
	storageImpl := storage.New(clients.SQLiteDB.DB)
	if err := storageImpl.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}

	keepAlive := keepalive.NewWorker(clients.Discord, cfg.Threads.KeepAliveInterval, s.Metrics, logger.With("worker", "keepalive"))

	threadService := threads.NewService(
		clients.Discord,
		keepAlive,
		clients.OrderAPI,
		locks.NewManager(),
		format,
		s.Metrics,
		logger.With("story", "threads"),
		threads.Config{
			GuildID:          cfg.Discord.GuildID,
			ClaimChannelID:   cfg.Discord.ClaimChannelID,
			ClaimChannelName: cfg.Discord.ClaimChannelName,
			StaffRoleID:      cfg.Discord.StaffRoleID,
			LogChannelName:   cfg.Discord.LogChannelName,
			GraceDelay:       cfg.Threads.GraceDelay,
			MemberAddDelay:   cfg.Threads.MemberAddDelay,
			HistoryLimit:     cfg.Threads.HistoryLimit,
		},
	)

	// nil-интерфейс, а не nil-указатель, когда зеркало выключено
	var mirror notify.Mirror
	var alerter healthcheck.Alerter
	if clients.Telegram != nil {
		mirror = clients.Telegram
		alerter = clients.Telegram
	}

	notifier := notify.NewService(clients.Discord, mirror, format, s.Metrics, logger.With("story", "notify"), notify.Config{
		GuildID:        cfg.Discord.GuildID,
		StaffRoleID:    cfg.Discord.StaffRoleID,
		StaffChannelID: cfg.Discord.StaffChannelID,
		ExtraStaffIDs:  cfg.Discord.StaffUserIDs,
		DMDelay:        cfg.Threads.DMDelay,
	})

	s.Dispatcher = dispatch.NewService(
		clients.Discord,
		threadService,
		notifier,
		clients.OrderAPI,
		storageImpl,
		orders.NewCache(),
		format,
		s.Metrics,
		logger.With("story", "dispatch"),
		dispatch.Config{
			GuildID:      cfg.Discord.GuildID,
			StaffRoleID:  cfg.Discord.StaffRoleID,
			StaffUserIDs: cfg.Discord.StaffUserIDs,
			SweepBatch:   cfg.Pending.SweepBatch,
			MaxAttempts:  cfg.Pending.MaxAttempts,
			MaxAge:       cfg.Pending.MaxAge,
		},
	)

	// Обработчики ставим до открытия сессии, чтобы не пропустить входы участников
	s.Router = discord.NewRouter(ctx, clients.Discord.Session(), s.Dispatcher, cfg.Discord.GuildID, logger.With("component", "router"))
	s.detach = s.Router.Attach(clients.Discord.Session())

	s.Health = healthcheck.NewWorker([]healthcheck.Dependency{
		{Name: "order backend", Check: clients.OrderAPI.Ping},
		{Name: "discord gateway", Check: clients.Discord.Ready},
		{Name: "database", Check: clients.SQLiteDB.Ready},
	}, alerter, cfg.HealthInterval, logger.With("worker", "healthcheck"))

	s.Workers = workers.NewManager(logger,
		keepAlive,
		pendingsweep.NewWorker(s.Dispatcher, cfg.Pending.SweepSchedule, logger.With("worker", "pendingsweep")),
		s.Health,
	)

	return &s, nil
}

// DetachRouter removes the gateway handlers.
func (s *Services) DetachRouter() {
	if s.detach != nil {
		s.detach()
	}
}
