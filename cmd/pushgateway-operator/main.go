package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/controllers/publication"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/controllers/version"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/controllers/workload"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/manager"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := ctrl.SetupSignalHandler()

	var publishQPS float64
	opts := &manager.Options{
		Rest: ctrl.GetConfigOrDie(),
	}
	opts.Bind(flag.CommandLine)
	flag.Float64Var(&publishQPS, "publish-qps", 2, "Max outbound integration record writes per second")
	flag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		return err
	}
	logger := zapr.NewLogger(zl)

	mgr, err := manager.New(logger, opts)
	if err != nil {
		return fmt.Errorf("constructing manager: %w", err)
	}

	err = workload.NewController(mgr)
	if err != nil {
		return fmt.Errorf("constructing workload controller: %w", err)
	}

	err = workload.NewStatusLogger(mgr)
	if err != nil {
		return fmt.Errorf("constructing status logger: %w", err)
	}

	err = publication.NewController(mgr, publishQPS)
	if err != nil {
		return fmt.Errorf("constructing publication controller: %w", err)
	}

	probe, err := version.NewPodProbe(mgr)
	if err != nil {
		return fmt.Errorf("constructing version probe: %w", err)
	}

	err = version.NewController(mgr, probe)
	if err != nil {
		return fmt.Errorf("constructing version controller: %w", err)
	}

	return mgr.Start(ctx)
}
