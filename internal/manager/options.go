package manager

import (
	"flag"
	"os"

	"k8s.io/client-go/rest"
)

type Options struct {
	Rest            *rest.Config
	HealthProbeAddr string
	MetricsAddr     string
	Namespace       string
	qps             float64 // flags don't support float32, bind to this value and copy over to Rest.QPS during initialization

	LeaderElection   bool
	LeaderElectionID string
}

func (o *Options) Bind(set *flag.FlagSet) {
	set.StringVar(&o.HealthProbeAddr, "health-probe-addr", ":8081", "Address to serve health probes on")
	set.StringVar(&o.MetricsAddr, "metrics-addr", ":8080", "Address to serve Prometheus metrics on")
	set.StringVar(&o.Namespace, "namespace", os.Getenv("OPERATOR_NAMESPACE"), "Namespace to watch. Watches all namespaces when empty")
	set.IntVar(&o.Rest.Burst, "burst", 50, "apiserver client rate limiter burst configuration")
	set.Float64Var(&o.qps, "qps", 20, "Max requests per second to apiserver")
	set.BoolVar(&o.LeaderElection, "leader-election", false, "Enable leader election")
	set.StringVar(&o.LeaderElectionID, "leader-election-id", "pushgateway-operator", "Name of the resource that leader election will use for holding the leader lock")
}
