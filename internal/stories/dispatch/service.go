// Package dispatch routes order events and staff commands to the thread
// lifecycle, the pending-order queue and the notification fan-out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderdesk-bot/internal/messages"
	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/stories/orders"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pendingQueued  = "queued"
	pendingOpened  = "opened"
	pendingSettled = "settled"
	pendingFailed  = "failed"
	pendingExpired = "expired"

	defaultSweepBatch = 50
	fanOutTimeout     = 10 * time.Minute
)

var tracer = otel.Tracer("orderdesk-bot/dispatch")

type Service struct {
	members Members
	threads Threads
	notify  Notifier
	backend Backend
	pending PendingStore
	cache   *orders.Cache
	staff   *StaffChecker
	format  *messages.Formatter
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	// fan-outs outlive the request that triggered them
	fanOuts sync.WaitGroup
}

func NewService(
	members Members,
	threadService Threads,
	notifier Notifier,
	backend Backend,
	pending PendingStore,
	cache *orders.Cache,
	format *messages.Formatter,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.SweepBatch == 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	return &Service{
		members: members,
		threads: threadService,
		notify:  notifier,
		backend: backend,
		pending: pending,
		cache:   cache,
		staff:   NewStaffChecker(cfg.StaffRoleID, cfg.StaffUserIDs),
		format:  format,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// HandleOrderCreated opens the order thread when the customer is in the guild
// and queues the order otherwise. Staff are notified either way, in the background:
// the result is ready as soon as the thread exists.
func (s *Service) HandleOrderCreated(ctx context.Context, order orders.Order) (Result, error) {
	ctx, span := tracer.Start(ctx, "dispatch.HandleOrderCreated", trace.WithAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("user_id", order.UserID),
	))
	defer span.End()

	logger := s.logger.With("order_id", order.ID, "user_id", order.UserID)

	// кэш только дополняет пустые поля события
	if cached, ok := s.cache.Get(order.ID); ok {
		order = cached.Merge(order)
	}
	s.cache.Put(order)

	_, err := s.members.Member(ctx, s.cfg.GuildID, order.UserID)
	if errors.Is(err, platform.ErrNotFound) {
		p, err := s.queue(ctx, order, logger)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "queue order")
			return Result{}, err
		}
		if p.Status == orders.PendingOpened {
			logger.Info("Repeated order event, thread already opened from the queue", "thread_id", p.ThreadID)
			return Result{ThreadID: p.ThreadID}, nil
		}
		s.fanOut(ctx, func(ctx context.Context) {
			s.notify.Staff(ctx, order, nil)
		})
		return Result{Pending: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup customer")
		return Result{}, fmt.Errorf("lookup customer %s: %w", order.UserID, err)
	}

	thread, err := s.threads.Create(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create thread")
		return Result{}, err
	}
	if thread == nil {
		return Result{}, nil
	}

	s.settlePending(ctx, order, thread.ID, logger)
	s.opened(ctx, order, *thread)
	return Result{ThreadID: thread.ID}, nil
}

// opened records the thread and starts both fan-outs, customer first.
func (s *Service) opened(ctx context.Context, order orders.Order, thread platform.Thread) {
	order.ThreadID = thread.ID
	s.cache.Put(orders.Order{ID: order.ID, ThreadID: thread.ID})
	s.fanOut(ctx, func(ctx context.Context) {
		s.notify.Customer(ctx, order, thread)
		s.notify.Staff(ctx, order, &thread)
	})
}

// fanOut runs fn in the background, detached from the caller's cancellation.
func (s *Service) fanOut(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanOutTimeout)
	s.fanOuts.Add(1)
	go func() {
		defer s.fanOuts.Done()
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every notification fan-out started so far has finished.
func (s *Service) Wait() {
	s.fanOuts.Wait()
}

func (s *Service) queue(ctx context.Context, order orders.Order, logger *slog.Logger) (*orders.PendingOrder, error) {
	p, err := s.pending.UpsertPendingOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("queue pending order: %w", err)
	}
	if p.Status == orders.PendingWaiting {
		s.metrics.Pending(pendingQueued)
		logger.Info("Customer not in guild, order queued", "pending_id", p.ID)
	}
	return p, nil
}

// settlePending closes queue entries for an order whose thread was opened directly,
// so a later join or sweep does not replace the thread.
func (s *Service) settlePending(ctx context.Context, order orders.Order, threadID string, logger *slog.Logger) {
	status := orders.PendingWaiting
	queued, err := s.pending.ListPendingOrders(ctx, orders.PendingCriteria{
		UserID:  &order.UserID,
		OrderID: &order.ID,
		Status:  &status,
	})
	if err != nil {
		logger.Error("Failed to look up queued copies of the order", "error", err)
		return
	}
	for _, p := range queued {
		if err := s.pending.MarkPendingOrderOpened(ctx, p.ID, threadID); err != nil {
			logger.Error("Failed to settle queued order", "pending_id", p.ID, "error", err)
			continue
		}
		s.metrics.Pending(pendingSettled)
		logger.Info("Queued order settled by direct open", "pending_id", p.ID, "thread_id", threadID)
	}
}

// HandleMemberJoined opens threads for every order the user placed before joining.
// It returns how many threads were opened.
func (s *Service) HandleMemberJoined(ctx context.Context, userID string) (int, error) {
	status := orders.PendingWaiting
	queued, err := s.pending.ListPendingOrders(ctx, orders.PendingCriteria{
		UserID: &userID,
		Status: &status,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending orders for %s: %w", userID, err)
	}
	if len(queued) == 0 {
		return 0, nil
	}

	s.logger.Info("Queued orders found for joined member", "user_id", userID, "count", len(queued))

	opened := 0
	for _, p := range queued {
		if s.openPending(ctx, p) {
			opened++
		}
	}
	return opened, nil
}

// openPending creates the thread for one queued order; failures stay queued
// until MaxAttempts. An order that already has a thread is only marked opened.
func (s *Service) openPending(ctx context.Context, p *orders.PendingOrder) bool {
	logger := s.logger.With("order_id", p.Order.ID, "user_id", p.Order.UserID, "pending_id", p.ID)

	order := p.Order
	if cached, ok := s.cache.Get(order.ID); ok {
		order = order.Merge(cached)
	}

	existing, err := s.threads.Threads(ctx, order.ID)
	if err != nil {
		s.failPending(ctx, p, fmt.Errorf("find threads: %w", err), logger)
		return false
	}
	if len(existing) > 0 {
		threadID := existing[len(existing)-1].ID
		if err := s.pending.MarkPendingOrderOpened(ctx, p.ID, threadID); err != nil {
			logger.Error("Failed to mark pending order opened", "error", err)
			return false
		}
		s.metrics.Pending(pendingSettled)
		logger.Info("Queued order already has a thread", "thread_id", threadID)
		return false
	}

	thread, err := s.threads.Create(ctx, order)
	if err != nil {
		s.failPending(ctx, p, err, logger)
		return false
	}
	if thread == nil {
		return false
	}

	if err := s.pending.MarkPendingOrderOpened(ctx, p.ID, thread.ID); err != nil {
		logger.Error("Failed to mark pending order opened", "error", err)
	}
	s.metrics.Pending(pendingOpened)
	s.opened(ctx, order, *thread)
	return true
}

func (s *Service) failPending(ctx context.Context, p *orders.PendingOrder, cause error, logger *slog.Logger) {
	attempt := p.Attempts + 1
	logger.Error("Failed to open thread for queued order", "error", cause, "attempt", attempt)
	s.metrics.Pending(pendingFailed)

	if err := s.pending.RecordPendingOrderFailure(ctx, p.ID, cause.Error()); err != nil {
		logger.Error("Failed to record pending order failure", "error", err)
	}
	if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
		s.expire(ctx, p, fmt.Sprintf("gave up after %d attempts: %v", attempt, cause), logger)
	}
}

func (s *Service) expire(ctx context.Context, p *orders.PendingOrder, reason string, logger *slog.Logger) {
	if err := s.pending.ExpirePendingOrder(ctx, p.ID, reason); err != nil {
		logger.Error("Failed to expire pending order", "error", err)
		return
	}
	s.metrics.Pending(pendingExpired)
	logger.Warn("Queued order expired", "reason", reason)
}

func (s *Service) tooOld(p *orders.PendingOrder) bool {
	return s.cfg.MaxAge > 0 && s.now().Sub(p.CreatedAt) > s.cfg.MaxAge
}

// SweepPending re-checks queued orders whose customers may have joined while
// the bot was offline. It walks the whole queue page by page, expires orders
// older than MaxAge and returns how many threads were opened.
func (s *Service) SweepPending(ctx context.Context) (int, error) {
	status := orders.PendingWaiting
	present := make(map[string]bool)
	opened := 0

	var after int64
	for {
		page, err := s.pending.ListPendingOrders(ctx, orders.PendingCriteria{
			Status:  &status,
			AfterID: after,
			Limit:   s.cfg.SweepBatch,
		})
		if err != nil {
			return opened, fmt.Errorf("list pending orders: %w", err)
		}

		for _, p := range page {
			if ctx.Err() != nil {
				return opened, ctx.Err()
			}

			if s.tooOld(p) {
				logger := s.logger.With("order_id", p.Order.ID, "user_id", p.Order.UserID, "pending_id", p.ID)
				s.expire(ctx, p, fmt.Sprintf("customer did not join within %s", s.cfg.MaxAge), logger)
				continue
			}

			userID := p.Order.UserID
			in, checked := present[userID]
			if !checked {
				_, err := s.members.Member(ctx, s.cfg.GuildID, userID)
				switch {
				case err == nil:
					in = true
				case errors.Is(err, platform.ErrNotFound):
				default:
					s.logger.Warn("Member lookup failed during sweep", "user_id", userID, "error", err)
				}
				present[userID] = in
			}
			if !in {
				continue
			}

			if s.openPending(ctx, p) {
				opened++
			}
		}

		if uint64(len(page)) < s.cfg.SweepBatch {
			return opened, nil
		}
		after = page[len(page)-1].ID
	}
}
