package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// recordOps counts service operations by kind, operation and outcome.
var recordOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "record_operations_total",
		Help: "Total number of record service operations.",
	},
	[]string{"kind", "op", "outcome"},
)

func init() {
	prometheus.MustRegister(recordOps)
}

// outcome maps a service error to a bounded label value.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "store_failure"
	}
}
