// Package orderapi talks to the order backend's REST API.
package orderapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orderdesk-bot/internal/retry"
	"orderdesk-bot/internal/stories/orders"
	"orderdesk-bot/internal/stories/threads"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrNotFound = errors.New("order not found")

var tracer = otel.Tracer("orderdesk-bot/orderapi")

const idempotencyHeader = "Idempotency-Key"

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Config struct {
	BaseURL      string
	Secret       string
	SecretHeader string
	HealthPath   string
	Timeout      time.Duration
	Retry        retry.Config
}

type Client struct {
	baseURL    *url.URL
	secret     string
	header     string
	healthPath string
	http       *http.Client
	retry      retry.Config
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse backend base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend base url %q must be absolute", cfg.BaseURL)
	}

	header := cfg.SecretHeader
	if header == "" {
		header = "X-Webhook-Secret"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	return &Client{
		baseURL:    base,
		secret:     cfg.Secret,
		header:     header,
		healthPath: healthPath,
		http:       &http.Client{Timeout: timeout},
		retry:      cfg.Retry,
		logger:     logger,
	}, nil
}

// LinkThread stores the thread id/url and the customer's Discord identity on the order.
// It is sent once: a failed link is logged by the caller and reconciled by hand.
func (c *Client) LinkThread(ctx context.Context, orderID string, link threads.ThreadLink) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("discord_thread_id")
	e.Str(link.ThreadID)
	e.FieldStart("discord_thread_url")
	e.Str(link.ThreadURL)
	if link.DiscordUserID != "" {
		e.FieldStart("discord_user_id")
		e.Str(link.DiscordUserID)
	}
	e.ObjEnd()

	_, err := c.request(ctx, http.MethodPatch, orderPath(orderID), e.Bytes(), retry.Config{MaxTries: 1})
	return err
}

// MarkDelivered sets the order to completed and records who delivered it.
func (c *Client) MarkDelivered(ctx context.Context, orderID, deliveredBy string, at time.Time) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(orders.StatusCompleted))
	e.FieldStart("delivered_by")
	e.Str(deliveredBy)
	e.FieldStart("delivered_at")
	e.Str(at.UTC().Format(time.RFC3339))
	e.ObjEnd()

	return c.patch(ctx, orderID, e.Bytes())
}

// SetDeliveryState moves the order's delivery state machine, e.g. to "delivered".
func (c *Client) SetDeliveryState(ctx context.Context, orderID, state string) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("state")
	e.Str(state)
	e.ObjEnd()

	_, err := c.do(ctx, http.MethodPost, orderPath(orderID)+"/delivery-state", e.Bytes())
	return err
}

// GetOrder reads the authoritative order record.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	body, err := c.do(ctx, http.MethodGet, orderPath(orderID), nil)
	if err != nil {
		return nil, err
	}

	record, err := unwrapRecord(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	order, err := orders.DecodeRecord(record)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return order, nil
}

// Ping checks the backend health endpoint once, without retries.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodGet, c.healthPath, "", nil)
	return err
}

func (c *Client) patch(ctx context.Context, orderID string, body []byte) error {
	_, err := c.do(ctx, http.MethodPatch, orderPath(orderID), body)
	return err
}

// do sends one logical request; retries reuse its idempotency key.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.request(ctx, method, path, body, c.retry)
}

func (c *Client) request(ctx context.Context, method, path string, body []byte, policy retry.Config) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "orderapi "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.path", path)))
	defer span.End()

	key := uuid.NewString()
	attempt := 0

	resp, err := retry.Do(ctx, policy, retryable, func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			c.logger.Debug("Retrying backend request", "method", method, "path", path, "attempt", attempt)
		}
		return c.send(ctx, method, path, key, body)
	})
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend request failed")
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path, key string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(c.header, c.secret)
	}
	if method != http.MethodGet {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return data, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return retry.TransientStatus(se.Code)
	}
	// сетевые ошибки
	return true
}

// unwrapRecord accepts a bare order object or one nested under "order" or "data".
func unwrapRecord(body []byte) ([]byte, error) {
	var nested jx.Raw
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "order", "data":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			nested = raw
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if nested != nil {
		return nested, nil
	}
	return body, nil
}

func orderPath(orderID string) string {
	return "/api/orders/" + url.PathEscape(orderID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
