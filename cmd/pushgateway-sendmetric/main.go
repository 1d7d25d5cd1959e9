// pushgateway-sendmetric forwards a single metric sample to a managed
// pushgateway through the push endpoint it published on the relation bus.
// It exists to exercise the push-endpoint integration from the other side.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/pkg/pushclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		name        string
		rawValue    string
		namespace   string
		pushgateway string
		job         string
		insecure    bool
	)
	flag.StringVar(&name, "name", "", "Name of the metric to send")
	flag.StringVar(&rawValue, "value", "", "Value of the metric to send")
	flag.StringVar(&namespace, "namespace", "default", "Namespace of the pushgateway resource")
	flag.StringVar(&pushgateway, "pushgateway", "pushgateway", "Name of the pushgateway resource")
	flag.StringVar(&job, "job", "default", "Job name to group the sample under")
	flag.BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS certificate verification")
	flag.Parse()

	if name == "" {
		return fmt.Errorf("--name is required")
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return fmt.Errorf("the metric value must be a float number")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheme := runtime.NewScheme()
	if err := apiv1.SchemeBuilder.AddToScheme(scheme); err != nil {
		return err
	}
	cli, err := client.New(ctrl.GetConfigOrDie(), client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("constructing client: %w", err)
	}

	record := &apiv1.Integration{}
	key := types.NamespacedName{
		Name:      fmt.Sprintf("%s-%s", pushgateway, apiv1.IntegrationPushEndpoint),
		Namespace: namespace,
	}
	if err := cli.Get(ctx, key, record); err != nil {
		return fmt.Errorf("getting push-endpoint record: %w", err)
	}

	opts := []pushclient.Option{pushclient.WithJob(job)}
	if insecure {
		opts = append(opts, pushclient.WithInsecureTLS())
	}
	pc, err := pushclient.NewFromRecord(record.Spec.Data, opts...)
	if err != nil {
		return err
	}

	if err := pc.SendMetric(ctx, name, value); err != nil {
		return err
	}
	fmt.Printf("sent %s=%v to %s/%s\n", name, value, namespace, pushgateway)
	return nil
}
