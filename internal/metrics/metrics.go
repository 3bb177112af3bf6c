package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the marketplace exports on /metrics.
type Metrics struct {
	ordersCreated  prometheus.Counter
	ordersPaid     prometheus.Counter
	ordersRefunded prometheus.Counter
	orderRejected  *prometheus.CounterVec
	statusChanges  *prometheus.CounterVec

	paymentFallbacks *prometheus.CounterVec

	wsConnections        prometheus.Gauge
	wsEvents             *prometheus.CounterVec
	notificationsSent    prometheus.Counter
	notificationsDropped prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_paid_total",
			Help: "Total number of orders that transitioned to paid",
		}),
		ordersRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_refunded_total",
			Help: "Total number of refunded orders",
		}),
		orderRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_rejected_total",
			Help: "Orders rejected at creation, by reason",
		}, []string{"reason"}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_order_status_changes_total",
			Help: "Seller driven order status changes, by target status",
		}, []string{"status"}),
		paymentFallbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_payment_simulated_total",
			Help: "Payment operations served by the simulated fallback",
		}, []string{"operation"}),
		wsConnections: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_ws_connections",
			Help: "Currently open websocket connections",
		}),
		wsEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_ws_events_total",
			Help: "Inbound websocket events, by event name and outcome",
		}, []string{"event", "outcome"}),
		notificationsSent: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_notifications_delivered_total",
			Help: "Notifications delivered to at least one live connection",
		}),
		notificationsDropped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_notifications_dropped_total",
			Help: "Notifications dropped because the recipient was offline",
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// All recorders are nil-safe so components can run without metrics in tests.

func (m *Metrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) RecordOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.orderRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordOrderPaid() {
	if m == nil {
		return
	}
	m.ordersPaid.Inc()
}

func (m *Metrics) RecordOrderRefunded() {
	if m == nil {
		return
	}
	m.ordersRefunded.Inc()
}

func (m *Metrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordPaymentFallback(operation string) {
	if m == nil {
		return
	}
	m.paymentFallbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

func (m *Metrics) RecordWSEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.wsEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) RecordNotification(delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.notificationsSent.Inc()
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
