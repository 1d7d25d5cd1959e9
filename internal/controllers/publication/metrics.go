package publication

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var publishedRecords = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pushgateway_operator_published_records_total",
		Help: "Outbound integration records written to the relation bus",
	},
)

func init() {
	metrics.Registry.MustRegister(publishedRecords)
}
