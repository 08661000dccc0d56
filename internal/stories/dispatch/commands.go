package dispatch

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"orderdesk-bot/internal/messages"
	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/stories/orders"
)

const deliveryStateDelivered = "delivered"

// Command names as registered on the platform.
const (
	CommandComplete       = "complete"
	CommandOrderStatus    = "order-status"
	CommandNotifyCustomer = "notify-customer"
	CommandSendServerLink = "send-server-link"
)

// Invocation is one staff command with its options already extracted.
type Invocation struct {
	Name    string
	Invoker string
	Roles   []string
	OrderID string
	Message string
	Link    string
}

// Execute authorizes and runs a command, returning the ephemeral reply.
// Nothing is mutated for an unauthorized invoker.
func (s *Service) Execute(ctx context.Context, inv Invocation) string {
	if err := s.staff.Authorize(invokerMember(inv)); err != nil {
		s.logger.Warn("Command rejected", "command", inv.Name, "user_id", inv.Invoker)
		return s.format.Reply("denied", nil)
	}

	orderID := strings.TrimSpace(inv.OrderID)
	if orderID == "" {
		return s.format.Reply("invalid_order", nil)
	}

	switch inv.Name {
	case CommandComplete:
		return s.complete(ctx, orderID, inv.Invoker)
	case CommandOrderStatus:
		return s.orderStatus(ctx, orderID)
	case CommandNotifyCustomer:
		return s.notifyCustomer(ctx, orderID, inv.Message)
	case CommandSendServerLink:
		return s.sendServerLink(ctx, orderID, inv.Link)
	default:
		return s.format.Reply("unknown_command", nil)
	}
}

// PressButton handles a message button; only the completion button is known.
func (s *Service) PressButton(ctx context.Context, customID, invoker string, roles []string) string {
	orderID, ok := strings.CutPrefix(customID, messages.CompleteButtonPrefix)
	if !ok {
		return s.format.Reply("unknown_command", nil)
	}
	return s.Execute(ctx, Invocation{
		Name:    CommandComplete,
		Invoker: invoker,
		Roles:   roles,
		OrderID: orderID,
	})
}

func (s *Service) complete(ctx context.Context, orderID, staffID string) string {
	logger := s.logger.With("order_id", orderID, "staff_id", staffID)

	if err := s.backend.MarkDelivered(ctx, orderID, staffID, s.now()); err != nil {
		logger.Error("Failed to mark order delivered", "error", err)
		s.metrics.NotifyFailed(metrics.ChannelBackend)
	}
	if err := s.backend.SetDeliveryState(ctx, orderID, deliveryStateDelivered); err != nil {
		logger.Error("Failed to update delivery state", "error", err)
		s.metrics.NotifyFailed(metrics.ChannelBackend)
	}

	n, err := s.threads.Complete(ctx, orderID, staffID)
	if err != nil {
		logger.Error("Completion failed", "error", err)
		return s.format.Reply("failed", map[string]string{"error": err.Error()})
	}

	s.cache.Put(orders.Order{ID: orderID, Status: orders.StatusCompleted})

	params := map[string]string{"order_id": orderID, "count": messages.Count(n)}
	if n == 0 {
		return s.format.Reply("nothing_completed", params)
	}
	logger.Info("Order completed", "threads", n)
	return s.format.Reply("completed", params)
}

func (s *Service) orderStatus(ctx context.Context, orderID string) string {
	cached, inCache := s.cache.Get(orderID)

	var order orders.Order
	fromCache := false
	fresh, err := s.backend.GetOrder(ctx, orderID)
	switch {
	case err == nil:
		order = *fresh
		if inCache {
			order = cached.Merge(*fresh)
		}
	case inCache:
		s.logger.Warn("Backend unavailable, using cached order", "order_id", orderID, "error", err)
		order = cached
		fromCache = true
	default:
		return s.format.Reply("not_found", map[string]string{"order_id": orderID})
	}
	if order.ID == "" {
		order.ID = orderID
	}

	thread := "—"
	if found, err := s.threads.Threads(ctx, orderID); err == nil && len(found) > 0 {
		thread = found[len(found)-1].URL()
	} else if order.ThreadID != "" {
		thread = platform.Thread{ID: order.ThreadID}.Mention()
	}

	reply := s.format.Reply("status", map[string]string{
		"order_id": order.ID,
		"status":   orDash(string(order.Status)),
		"product":  orDash(order.ProductSummary()),
		"email":    orDash(order.Email),
		"thread":   thread,
	})
	if fromCache {
		reply += s.format.Reply("status_cached", nil)
	}
	return reply
}

func (s *Service) notifyCustomer(ctx context.Context, orderID, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return s.format.Reply("empty_message", nil)
	}

	n, err := s.threads.Post(ctx, orderID, s.format.StaffNote(s.customerOf(ctx, orderID), message))
	return s.postReply("notified", orderID, n, err)
}

func (s *Service) sendServerLink(ctx context.Context, orderID, link string) string {
	link = strings.TrimSpace(link)
	if !validLink(link) {
		return s.format.Reply("invalid_link", nil)
	}

	n, err := s.threads.Post(ctx, orderID, s.format.ServerLink(s.customerOf(ctx, orderID), link))
	return s.postReply("link_sent", orderID, n, err)
}

func (s *Service) postReply(key, orderID string, n int, err error) string {
	if err != nil {
		s.logger.Error("Failed to post into order thread", "order_id", orderID, "error", err)
		return s.format.Reply("failed", map[string]string{"error": err.Error()})
	}
	if n == 0 {
		return s.format.Reply("not_found", map[string]string{"order_id": orderID})
	}
	return s.format.Reply(key, map[string]string{"order_id": orderID, "count": messages.Count(n)})
}

// customerOf resolves the customer id for mentions; empty when unknown.
func (s *Service) customerOf(ctx context.Context, orderID string) string {
	if o, ok := s.cache.Get(orderID); ok && o.UserID != "" {
		return o.UserID
	}
	o, err := s.backend.GetOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Debug("Customer lookup failed", "order_id", orderID, "error", err)
		}
		return ""
	}
	o.ID = orderID
	s.cache.Put(*o)
	return o.UserID
}

func validLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
