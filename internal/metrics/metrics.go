package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the engine.
	Registry = prometheus.NewRegistry()

	// CyclesTotal counts completed polling cycles.
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_cycles_total", Help: "Completed polling cycles."},
	)
	// OrdersProcessed counts per-order outcomes per cycle.
	OrdersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_orders_processed_total", Help: "Order dispatch outcomes."},
		[]string{"outcome"},
	)
	// VendorCalls counts Vendor API calls by HTTP method and result.
	VendorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vendor_api_calls_total", Help: "Vendor API calls by method and result."},
		[]string{"method", "result"},
	)
	// VendorLatency tracks Vendor API call latencies in seconds, including
	// retries and backoff waits.
	VendorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vendor_api_latency_seconds", Help: "Vendor API call latency.", Buckets: prometheus.DefBuckets},
		[]string{"method"},
	)
	// TokenExchanges counts OAuth token exchanges by result.
	TokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "token_exchanges_total", Help: "OAuth token exchanges."},
		[]string{"result"},
	)
	// WebhookVerifications counts webhook signature checks by result.
	WebhookVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_verifications_total", Help: "Webhook signature verification outcomes."},
		[]string{"result"},
	)
	// HTTPRequests counts inbound requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the engine registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(CyclesTotal)
		Registry.MustRegister(OrdersProcessed)
		Registry.MustRegister(VendorCalls)
		Registry.MustRegister(VendorLatency)
		Registry.MustRegister(TokenExchanges)
		Registry.MustRegister(WebhookVerifications)
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
