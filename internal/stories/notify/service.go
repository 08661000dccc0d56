// Package notify fans order notifications out to staff and customers.
// Every send is best-effort: failures are logged per recipient and never returned.
package notify

import (
	"context"
	"log/slog"
	"time"

	"orderdesk-bot/internal/messages"
	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/stories/orders"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

type Config struct {
	GuildID        string
	StaffRoleID    string
	StaffChannelID string
	// ExtraStaffIDs receive DMs even without the staff role.
	ExtraStaffIDs []string
	// DMDelay paces direct messages to staff.
	DMDelay time.Duration
}

type Service struct {
	platform Platform
	mirror   Mirror
	format   *messages.Formatter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	dmPacer  *rate.Limiter
}

// NewService builds the fan-out; mirror may be nil.
func NewService(p Platform, mirror Mirror, format *messages.Formatter, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	pace := rate.Inf
	if cfg.DMDelay > 0 {
		pace = rate.Every(cfg.DMDelay)
	}
	return &Service{
		platform: p,
		mirror:   mirror,
		format:   format,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		dmPacer:  rate.NewLimiter(pace, 1),
	}
}

// Staff announces the order in the staff channel and DMs every staff member.
// thread is nil when the customer has not joined yet.
func (s *Service) Staff(ctx context.Context, order orders.Order, thread *platform.Thread) {
	logger := s.logger.With("order_id", order.ID)

	if s.cfg.StaffChannelID != "" {
		notice := s.format.StaffChannelNotice(order, thread, s.cfg.StaffRoleID)
		if _, err := s.platform.SendMessage(ctx, s.cfg.StaffChannelID, notice); err != nil {
			logger.Error("Failed to post staff channel notice", "channel_id", s.cfg.StaffChannelID, "error", err)
			s.metrics.NotifyFailed(metrics.ChannelStaff)
		}
	}

	if s.mirror != nil {
		if err := s.mirror.Broadcast(ctx, s.format.StaffPlain(order, thread)); err != nil {
			logger.Warn("Failed to mirror staff notice", "error", err)
			s.metrics.NotifyFailed(metrics.ChannelTelegram)
		}
	}

	recipients := s.roster(ctx, logger)
	dm := s.format.StaffDM(order, thread)
	sent := 0
	for _, id := range recipients {
		if err := s.dmPacer.Wait(ctx); err != nil {
			logger.Warn("Staff DMs interrupted", "error", err, "remaining", len(recipients)-sent)
			return
		}
		if err := s.platform.SendDirect(ctx, id, dm); err != nil {
			logger.Warn("Failed to DM staff member", "staff_id", id, "error", err)
			s.metrics.NotifyFailed(metrics.ChannelStaffDM)
			continue
		}
		sent++
	}

	logger.Info("Staff notified", "recipients", len(recipients), "delivered", sent)
}

// roster is read live so role changes apply immediately.
func (s *Service) roster(ctx context.Context, logger *slog.Logger) []string {
	botID := s.platform.BotUserID()

	var ids []string
	members, err := s.platform.RoleMembers(ctx, s.cfg.GuildID, s.cfg.StaffRoleID)
	if err != nil {
		logger.Error("Failed to list staff roster", "error", err)
	}
	for _, m := range members {
		if !m.Bot && m.UserID != botID {
			ids = append(ids, m.UserID)
		}
	}

	return lo.Uniq(append(ids, s.cfg.ExtraStaffIDs...))
}

// Customer DMs the full order details and a link to the thread.
func (s *Service) Customer(ctx context.Context, order orders.Order, thread platform.Thread) bool {
	if err := s.platform.SendDirect(ctx, order.UserID, s.format.CustomerDM(order, thread)); err != nil {
		s.logger.Warn("Failed to DM customer", "order_id", order.ID, "user_id", order.UserID, "error", err)
		s.metrics.NotifyFailed(metrics.ChannelCustomer)
		return false
	}
	return true
}
