package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"orderdesk-bot/internal/discord"
	environment "orderdesk-bot/internal/env"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize environment
	env, err := environment.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup environment: %v", err)
	}

	logger := env.Logger
	logger.Info("Starting orderdesk-bot")

	if err := run(ctx, env); err != nil {
		logger.Error("Startup failed", slog.Any("error", err))
		shutdown(env)
		os.Exit(1)
	}

	logger.Info("Bot started successfully. Press Ctrl+C to stop.")
	<-ctx.Done()

	logger.Info("Shutting down application...")
	shutdown(env)
	logger.Info("Application stopped")
}

func run(ctx context.Context, env *environment.Env) error {
	logger := env.Logger

	// Start observability server in background
	serve(logger, "observability", env.Servers.HTTP.Observability)

	if err := env.Clients.Discord.Open(ctx); err != nil {
		return err
	}

	if env.Config.Discord.RegisterCommands {
		// Не критично: команды могли остаться с прошлого запуска
		if err := discord.RegisterCommands(ctx, env.Clients.Discord.Session(), env.Clients.Discord.BotUserID(), env.Config.Discord.GuildID); err != nil {
			logger.Error("Failed to register commands", slog.Any("error", err))
		} else {
			logger.Info("Commands registered", slog.Int("count", len(discord.Commands())))
		}
	}

	if err := env.Services.Workers.Start(); err != nil {
		return err
	}

	// Сразу разбираем очередь: участники могли зайти пока бот был выключен
	go func() {
		if _, err := env.Services.Dispatcher.SweepPending(ctx); err != nil {
			logger.Error("Initial pending sweep failed", slog.Any("error", err))
		}
	}()

	serve(logger, "api", env.Servers.HTTP.API)
	return nil
}

func serve(logger *slog.Logger, name string, srv *http.Server) {
	if srv == nil {
		return
	}
	go func() {
		logger.Info("Starting server", slog.String("server", name), slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("server", name), slog.Any("error", err))
		}
	}()
}

func shutdown(env *environment.Env) {
	logger := env.Logger

	// Create context with timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownDuration)
	defer cancel()

	// таймеры keep-alive и крон останавливаются первыми
	env.Services.Workers.Stop()

	for name, srv := range map[string]*http.Server{
		"api":           env.Servers.HTTP.API,
		"observability": env.Servers.HTTP.Observability,
	} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server shutdown error", slog.String("server", name), slog.Any("error", err))
		}
	}

	// рассылки по уже принятым заказам дописываются до закрытия сессии
	fanOutsDone := make(chan struct{})
	go func() {
		env.Services.Dispatcher.Wait()
		close(fanOutsDone)
	}()
	select {
	case <-fanOutsDone:
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timed out waiting for notification fan-outs")
	}

	if err := env.Clients.Discord.Close(); err != nil {
		logger.Error("Discord session close error", slog.Any("error", err))
	}

	// Close resources
	for _, closer := range env.Closers {
		closer()
	}
}
