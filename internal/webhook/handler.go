// Package webhook serves the order backend's ingress endpoints.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/stories/dispatch"
	"orderdesk-bot/internal/stories/orders"

	"github.com/go-faster/jx"
)

const (
	SecretHeader = "X-Webhook-Secret"

	defaultMaxBody = 1 << 20
)

type orderHandler interface {
	HandleOrderCreated(ctx context.Context, order orders.Order) (dispatch.Result, error)
}

type Handler struct {
	orders  orderHandler
	secret  []byte
	maxBody int64
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandler(o orderHandler, secret string, maxBody int64, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{
		orders:  o,
		secret:  []byte(secret),
		maxBody: maxBody,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/create-ticket", h.createTicket)
	mux.HandleFunc("GET /health", h.health)
	return mux
}

func (h *Handler) createTicket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("Webhook rejected: bad secret", "remote", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	order, err := orders.DecodePayload(body)
	if err != nil {
		h.logger.Warn("Webhook rejected: bad payload", "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := h.logger.With("order_id", order.ID, "user_id", order.UserID)
	logger.Info("Order webhook received")

	res, err := h.orders.HandleOrderCreated(r.Context(), *order)
	if err != nil {
		logger.Error("Order webhook failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("customerThreadId", func(e *jx.Encoder) {
			if res.ThreadID == "" {
				e.Null()
				return
			}
			e.Str(res.ThreadID)
		})
		if res.Pending {
			e.Field("pending", func(e *jx.Encoder) { e.Bool(true) })
		}
	})
	h.write(w, http.StatusOK, e.Bytes())
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
		e.Field("timestamp", func(e *jx.Encoder) { e.Str(h.now().UTC().Format(time.RFC3339)) })
	})
	h.write(w, http.StatusOK, e.Bytes())
}

func (h *Handler) authorized(r *http.Request) bool {
	got := r.Header.Get(SecretHeader)
	if got == "" || len(h.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), h.secret) == 1
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})
	h.write(w, status, e.Bytes())
}

func (h *Handler) write(w http.ResponseWriter, status int, body []byte) {
	h.metrics.WebhookResponse(status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
