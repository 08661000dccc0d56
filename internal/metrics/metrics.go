// Package metrics exposes the bot's Prometheus series.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderdesk"

const (
	ChannelStaff    = "staff_channel"
	ChannelStaffDM  = "staff_dm"
	ChannelCustomer = "customer_dm"
	ChannelTelegram = "telegram"
	ChannelBackend  = "backend"
)

type Metrics struct {
	threadsCreated   prometheus.Counter
	threadsCompleted prometheus.Counter
	threadsReplaced  prometheus.Counter
	lockContention   prometheus.Counter
	keepAliveBeats   *prometheus.CounterVec
	keepAliveActive  prometheus.Gauge
	notifyFailures   *prometheus.CounterVec
	webhookResponses *prometheus.CounterVec
	pendingOrders    *prometheus.CounterVec
}

// New registers every series on registerer (prometheus.DefaultRegisterer when nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		threadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_created_total",
			Help:      "Order threads created.",
		}),
		threadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_completed_total",
			Help:      "Order threads archived after delivery.",
		}),
		threadsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_replaced_total",
			Help:      "Stale order threads deleted before re-creation.",
		}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "creation_lock_busy_total",
			Help:      "Creation attempts skipped because another attempt held the lock.",
		}),
		keepAliveBeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_beats_total",
			Help:      "Keep-alive heartbeats by outcome.",
		}, []string{"outcome"}),
		keepAliveActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keepalive_active",
			Help:      "Threads currently kept alive.",
		}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Best-effort notifications that failed, by channel.",
		}, []string{"channel"}),
		webhookResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_responses_total",
			Help:      "Webhook responses by HTTP status.",
		}, []string{"status"}),
		pendingOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_orders_total",
			Help:      "Pending order transitions (queued, opened, settled, failed, expired).",
		}, []string{"event"}),
	}

	registerer.MustRegister(
		m.threadsCreated,
		m.threadsCompleted,
		m.threadsReplaced,
		m.lockContention,
		m.keepAliveBeats,
		m.keepAliveActive,
		m.notifyFailures,
		m.webhookResponses,
		m.pendingOrders,
	)
	return m
}

func (m *Metrics) ThreadCreated() {
	if m != nil {
		m.threadsCreated.Inc()
	}
}

func (m *Metrics) ThreadsCompleted(n int) {
	if m != nil {
		m.threadsCompleted.Add(float64(n))
	}
}

func (m *Metrics) ThreadReplaced() {
	if m != nil {
		m.threadsReplaced.Inc()
	}
}

func (m *Metrics) LockBusy() {
	if m != nil {
		m.lockContention.Inc()
	}
}

// KeepAliveBeat records one heartbeat; outcome is "ok", "stopped" or "failed".
func (m *Metrics) KeepAliveBeat(outcome string) {
	if m != nil {
		m.keepAliveBeats.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) KeepAliveActive(n int) {
	if m != nil {
		m.keepAliveActive.Set(float64(n))
	}
}

func (m *Metrics) NotifyFailed(channel string) {
	if m != nil {
		m.notifyFailures.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) WebhookResponse(status int) {
	if m != nil {
		m.webhookResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) Pending(event string) {
	if m != nil {
		m.pendingOrders.WithLabelValues(event).Inc()
	}
}
