package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderdesk-bot/internal/locks"
	"orderdesk-bot/internal/messages"
	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/stories/orders"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const defaultHistoryLimit = 100

var tracer = otel.Tracer("orderdesk-bot/threads")

// Service creates, populates and completes per-order private threads.
type Service struct {
	platform  Platform
	keepAlive KeepAlive
	backend   Backend
	locks     *locks.Manager
	format    *messages.Formatter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	memberPacer *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewService(
	p Platform,
	keepAlive KeepAlive,
	backend Backend,
	lockManager *locks.Manager,
	format *messages.Formatter,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}

	pace := rate.Inf
	if cfg.MemberAddDelay > 0 {
		pace = rate.Every(cfg.MemberAddDelay)
	}

	return &Service{
		platform:    p,
		keepAlive:   keepAlive,
		backend:     backend,
		locks:       lockManager,
		format:      format,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		memberPacer: rate.NewLimiter(pace, 1),
		sleep:       sleepCtx,
	}
}

// Create opens a fresh thread for the order. It returns (nil, nil) when
// another creation for the same customer and order is already running.
func (s *Service) Create(ctx context.Context, order orders.Order) (*platform.Thread, error) {
	ctx, span := tracer.Start(ctx, "threads.Create", trace.WithAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("user_id", order.UserID),
	))
	defer span.End()

	logger := s.logger.With("order_id", order.ID, "user_id", order.UserID)

	var thread *platform.Thread
	acquired, err := s.locks.WithLock(locks.Key{UserID: order.UserID, OrderID: order.ID}, func() error {
		var err error
		thread, err = s.create(ctx, order, logger)
		return err
	})
	if !acquired {
		logger.Info("Thread creation already in progress, skipping")
		s.metrics.LockBusy()
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create thread")
		return nil, err
	}

	span.SetAttributes(attribute.String("thread_id", thread.ID))
	return thread, nil
}

func (s *Service) create(ctx context.Context, order orders.Order, logger *slog.Logger) (*platform.Thread, error) {
	claim, err := s.claimChannel(ctx)
	if err != nil {
		return nil, err
	}

	stale, err := s.matching(ctx, claim.ID, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	for _, t := range stale {
		if err := s.platform.DeleteThread(ctx, t.ID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			return nil, fmt.Errorf("delete stale thread %s: %w", t.ID, err)
		}
		s.metrics.ThreadReplaced()
		logger.Info("Deleted stale thread", "thread_id", t.ID, "thread_name", t.Name)
	}

	thread, err := s.platform.CreatePrivateThread(ctx, claim.ID, orders.ThreadName(order.ID))
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	logger = logger.With("thread_id", thread.ID)

	if err := s.platform.AddThreadMember(ctx, thread.ID, order.UserID); err != nil {
		return nil, fmt.Errorf("add customer to thread: %w", err)
	}
	s.addStaff(ctx, thread.ID, order.UserID, logger)

	if _, err := s.platform.SendMessage(ctx, thread.ID, s.format.Instructions(order)); err != nil {
		return nil, fmt.Errorf("post instructions: %w", err)
	}
	if _, err := s.platform.SendMessage(ctx, thread.ID, s.format.OrderDetails(order)); err != nil {
		return nil, fmt.Errorf("post order details: %w", err)
	}
	if _, err := s.platform.SendMessage(ctx, thread.ID, s.format.Ping(order.UserID, s.cfg.StaffRoleID)); err != nil {
		logger.Warn("Failed to post thread ping", "error", err)
	}

	link := ThreadLink{ThreadID: thread.ID, ThreadURL: thread.URL(), DiscordUserID: order.UserID}
	if err := s.backend.LinkThread(ctx, order.ID, link); err != nil {
		// thread exists but the order record does not point at it yet
		logger.Error("Failed to link thread to order", "error", err, "thread_url", link.ThreadURL)
		s.metrics.NotifyFailed(metrics.ChannelBackend)
	}

	s.keepAlive.Schedule(*thread, order.ID)
	s.metrics.ThreadCreated()

	logger.Info("Order thread created", "thread_name", thread.Name)
	return thread, nil
}

func (s *Service) addStaff(ctx context.Context, threadID, customerID string, logger *slog.Logger) {
	staff, err := s.platform.RoleMembers(ctx, s.cfg.GuildID, s.cfg.StaffRoleID)
	if err != nil {
		logger.Error("Failed to list staff for thread", "error", err)
		return
	}

	botID := s.platform.BotUserID()
	staff = lo.Filter(staff, func(m platform.Member, _ int) bool {
		return !m.Bot && m.UserID != botID && m.UserID != customerID
	})

	for _, m := range staff {
		if err := s.memberPacer.Wait(ctx); err != nil {
			logger.Warn("Staff additions interrupted", "error", err)
			return
		}
		if err := s.platform.AddThreadMember(ctx, threadID, m.UserID); err != nil {
			logger.Warn("Failed to add staff member to thread", "staff_id", m.UserID, "error", err)
		}
	}
}

// Complete archives and locks every thread of the order and returns how many were archived.
func (s *Service) Complete(ctx context.Context, orderID, completedBy string) (int, error) {
	ctx, span := tracer.Start(ctx, "threads.Complete", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("completed_by", completedBy),
	))
	defer span.End()

	logger := s.logger.With("order_id", orderID, "completed_by", completedBy)

	s.keepAlive.Cancel(orderID)

	logChannel, err := s.logChannel(ctx)
	if err != nil {
		logger.Error("Completion log channel unavailable", "error", err)
	}

	matched, err := s.Threads(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find threads")
		return 0, err
	}

	archived := 0
	for _, t := range matched {
		if s.completeThread(ctx, orderID, t, completedBy, logChannel, logger.With("thread_id", t.ID)) {
			archived++
		}
	}

	s.metrics.ThreadsCompleted(archived)
	span.SetAttributes(attribute.Int("threads_matched", len(matched)), attribute.Int("threads_archived", archived))
	logger.Info("Order completed", "threads_matched", len(matched), "threads_archived", archived)
	return archived, nil
}

func (s *Service) completeThread(
	ctx context.Context,
	orderID string,
	thread platform.Thread,
	completedBy string,
	logChannel *platform.Channel,
	logger *slog.Logger,
) bool {
	history, err := s.platform.Messages(ctx, thread.ID, s.cfg.HistoryLimit)
	if err != nil {
		logger.Warn("Failed to read thread history", "error", err)
	}
	details := s.format.ParseOrderDetails(history, s.platform.BotUserID())

	if logChannel != nil {
		entry := s.format.CompletionLog(orderID, thread, completedBy, details)
		if _, err := s.platform.SendMessage(ctx, logChannel.ID, entry); err != nil {
			logger.Error("Failed to write completion log", "error", err)
		}
	}

	if _, err := s.platform.SendMessage(ctx, thread.ID, s.format.DeliveryConfirmation(completedBy)); err != nil {
		logger.Error("Failed to post delivery confirmation", "error", err)
	}

	customerID, err := s.customer(ctx, thread.ID)
	switch {
	case err != nil:
		logger.Warn("Failed to resolve customer", "error", err)
	case customerID == "":
		logger.Warn("No customer found in thread")
	default:
		if err := s.platform.SendDirect(ctx, customerID, s.format.DeliveryDM(orderID, thread)); err != nil {
			logger.Warn("Failed to DM delivery confirmation", "user_id", customerID, "error", err)
			s.metrics.NotifyFailed(metrics.ChannelCustomer)
		}
	}

	if err := s.sleep(ctx, s.cfg.GraceDelay); err != nil {
		logger.Warn("Grace delay interrupted", "error", err)
	}

	// history stays for audit, so the thread is archived, never deleted
	if err := s.platform.ArchiveThread(context.WithoutCancel(ctx), thread.ID, true); err != nil {
		logger.Error("Failed to archive thread", "error", err)
		return false
	}
	return true
}

// customer is the first thread member that is neither the bot nor staff.
func (s *Service) customer(ctx context.Context, threadID string) (string, error) {
	ids, err := s.platform.ThreadMembers(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("thread members: %w", err)
	}

	botID := s.platform.BotUserID()
	for _, id := range ids {
		if id == botID {
			continue
		}
		m, err := s.platform.Member(ctx, s.cfg.GuildID, id)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				continue
			}
			return "", fmt.Errorf("member %s: %w", id, err)
		}
		if m.Bot || m.HasRole(s.cfg.StaffRoleID) {
			continue
		}
		return id, nil
	}
	return "", nil
}

// Threads returns every thread, active or archived, whose name carries the order's suffix.
func (s *Service) Threads(ctx context.Context, orderID string) ([]platform.Thread, error) {
	claim, err := s.claimChannel(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := s.matching(ctx, claim.ID, orderID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return matched, nil
}

// Post sends msg into every thread of the order and returns how many received it.
func (s *Service) Post(ctx context.Context, orderID string, msg platform.OutgoingMessage) (int, error) {
	matched, err := s.Threads(ctx, orderID)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, t := range matched {
		if _, err := s.platform.SendMessage(ctx, t.ID, msg); err != nil {
			s.logger.Warn("Failed to post into thread", "order_id", orderID, "thread_id", t.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Service) matching(ctx context.Context, parentID, orderID string) ([]platform.Thread, error) {
	all, err := s.platform.ListThreads(ctx, s.cfg.GuildID, parentID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(t platform.Thread, _ int) bool {
		return orders.MatchesThread(t.Name, orderID)
	}), nil
}

func (s *Service) claimChannel(ctx context.Context) (*platform.Channel, error) {
	ch, err := s.platform.FindChannel(ctx, s.cfg.GuildID, s.cfg.ClaimChannelID, s.cfg.ClaimChannelName)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, ErrClaimChannelNotFound
		}
		return nil, fmt.Errorf("find claim channel: %w", err)
	}
	return ch, nil
}

func (s *Service) logChannel(ctx context.Context) (*platform.Channel, error) {
	ch, err := s.platform.FindChannel(ctx, s.cfg.GuildID, "", s.cfg.LogChannelName)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, platform.ErrNotFound) {
		return nil, fmt.Errorf("find log channel: %w", err)
	}

	ch, err = s.platform.CreateStaffChannel(ctx, s.cfg.GuildID, s.cfg.LogChannelName, s.cfg.StaffRoleID)
	if err != nil {
		return nil, fmt.Errorf("create log channel: %w", err)
	}
	s.logger.Info("Created completion log channel", "channel_id", ch.ID, "name", ch.Name)
	return ch, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
