package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
)

// Prometheus metrics for settlement, indexing and delivery
var (
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handlepay_payments_total",
			Help: "Total number of confirmed payments by final status",
		},
		[]string{"status", "stablecoin", "mode"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handlepay_notifications_total",
			Help: "Total number of notification delivery attempts by outcome",
		},
		[]string{"status", "channel", "provider"},
	)

	IndexerLagBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "handlepay_indexer_lag_blocks",
			Help: "Confirmed chain height minus the indexer watermark",
		},
		[]string{"chain"},
	)

	IndexerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handlepay_indexer_runs_total",
			Help: "Total number of indexer sync runs by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handlepay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handlepay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(PaymentsTotal)
		prometheus.MustRegister(NotificationsTotal)
		prometheus.MustRegister(IndexerLagBlocks)
		prometheus.MustRegister(IndexerRunsTotal)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}

func IncPayment(status, stablecoin, mode string) {
	PaymentsTotal.WithLabelValues(status, stablecoin, mode).Inc()
}

func IncNotification(status, channel, provider string) {
	NotificationsTotal.WithLabelValues(status, channel, provider).Inc()
}

func SetIndexerLag(chain string, lag int64) {
	if lag < 0 {
		lag = 0
	}
	IndexerLagBlocks.WithLabelValues(chain).Set(float64(lag))
}

func IncIndexerRun(result string) {
	IndexerRunsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Middleware records request counts and latencies by route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = apperr.HTTPStatus(err)
			}
		}
		HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
