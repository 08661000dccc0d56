package environment

import (
	"context"
	"log/slog"
	"net/http"

	"orderdesk-bot/internal/config"
	"orderdesk-bot/internal/webhook"
)

type Servers struct {
	HTTP struct {
		Observability *http.Server
		API           *http.Server
	}
}

func newServers(ctx context.Context, cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) *Servers {
	var servers Servers

	handler := webhook.NewHandler(
		services.Dispatcher,
		cfg.WebhookSecret,
		cfg.API.MaxBodyBytes,
		services.Metrics,
		logger.With("component", "webhook"),
	)

	servers.HTTP.API = &http.Server{
		Addr:              cfg.API.ADDR(),
		Handler:           handler.Routes(),
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
	}
	servers.HTTP.Observability = initObservability(ctx, logger.WithGroup("http"), clients, cfg)

	return &servers
}
