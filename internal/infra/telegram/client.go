// Package telegram mirrors staff alerts to Telegram chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type Client struct {
	api      *tgbotapi.BotAPI
	chatIDs  []int64
	logger   *slog.Logger
	limiter  *rate.Limiter
	endpoint string
}

type Option func(*Client)

// WithEndpoint points the client at a different Bot API server.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func NewClient(token string, chatIDs []int64, logger *slog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		chatIDs:  chatIDs,
		logger:   logger,
		endpoint: tgbotapi.APIEndpoint,
		// Rate limiting - 30 сообщений в секунду
		limiter: rate.NewLimiter(30, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("создание telegram бота: %w", err)
	}
	c.api = bot

	logger.Info("Telegram mirror ready", "bot", bot.Self.UserName, "chats", len(chatIDs))
	return c, nil
}

// SendMessage отправляет сообщение с rate limiting
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := c.api.Send(msg); err != nil {
		c.logger.Error("ошибка отправки сообщения",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return fmt.Errorf("отправка сообщения: %w", err)
	}

	return nil
}

// Broadcast sends text to every configured chat; one failing chat does not stop the rest.
func (c *Client) Broadcast(ctx context.Context, text string) error {
	var errs []error
	for _, id := range c.chatIDs {
		if err := c.SendMessage(ctx, id, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
