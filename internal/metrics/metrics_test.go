package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecorders(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordOrderPaid()
	m.RecordOrderRejected("insufficient_stock")
	m.RecordPaymentFallback("confirm")
	m.RecordConnectionOpened()
	m.RecordConnectionOpened()
	m.RecordConnectionClosed()
	m.RecordNotification(true)
	m.RecordNotification(false)
	m.RecordHTTPRequest("POST", "/v1/orders", 201, 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPaid))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderRejected.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentFallbacks.WithLabelValues("confirm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/orders", "201")))
}

func TestMetricsReuseExistingCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewWithRegisterer(registry)
	second := NewWithRegisterer(registry)

	first.RecordOrderRefunded()
	second.RecordOrderRefunded()

	assert.Equal(t, 2.0, testutil.ToFloat64(first.ordersRefunded))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOrderCreated()
		m.RecordWSEvent("send-message", "ok")
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}
