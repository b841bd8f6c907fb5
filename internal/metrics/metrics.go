package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Collectors groups the service collectors. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	OrdersCreated    *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	StockAdjustments *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	OutboxPublished  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders committed, by entry channel.",
		}, []string{"channel"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Requested status transitions, by edge and result.",
		}, []string{"from", "to", "result"}),
		StockAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_adjustments_total",
			Help:      "Delivery stock adjustments, applied or skipped as already done.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox records handed to Kafka, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.OrdersCreated, c.Transitions, c.StockAdjustments, c.Requests, c.LatencyMS, c.OutboxPublished)
	return c
}

func (c *Collectors) OrderCreated(channel string) {
	if c == nil {
		return
	}
	c.OrdersCreated.WithLabelValues(channel).Inc()
}

func (c *Collectors) Transition(from, to, result string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to, result).Inc()
}

func (c *Collectors) StockAdjusted(result string) {
	if c == nil {
		return
	}
	c.StockAdjustments.WithLabelValues(result).Inc()
}

func (c *Collectors) Request(route string, status int, ms float64) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.LatencyMS.WithLabelValues(route).Observe(ms)
}

func (c *Collectors) Published(result string) {
	if c == nil {
		return
	}
	c.OutboxPublished.WithLabelValues(result).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
