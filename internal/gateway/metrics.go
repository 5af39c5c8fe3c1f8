package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"portal-cart/internal/model"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_cart_gateway_requests_total",
		Help: "Portal requests issued by the cart gateway, by operation and outcome",
	}, []string{"op", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_cart_gateway_request_duration_seconds",
		Help:    "Duration of portal requests issued by the cart gateway",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})
)

// outcome labels an error by its Kind, "ok" for nil.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var e *model.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return string(model.KindNetwork)
}

func observe(op string, err error) {
	requestsTotal.WithLabelValues(op, outcome(err)).Inc()
}
