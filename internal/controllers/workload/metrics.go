package workload

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushgateway_operator_reconciliations_total",
			Help: "Workload reconciliation passes",
		},
	)

	applies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushgateway_operator_applies_total",
			Help: "Workload configuration applies",
		},
	)

	blockedReconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushgateway_operator_blocked_total",
			Help: "Reconciliations rejected due to invalid configuration",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(reconciliations, applies, blockedReconciliations)
}
