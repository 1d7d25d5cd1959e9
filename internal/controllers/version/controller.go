// Package version records the workload's reported version on the
// Pushgateway status by asking the running binary, since image tags don't
// necessarily name the version actually inside.
package version

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/manager"
)

type versionController struct {
	client client.Client
	probe  Probe
}

func NewController(mgr ctrl.Manager, probe Probe) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Pod{}).
		WithLogConstructor(manager.NewLogConstructor(mgr, "versionController")).
		Complete(&versionController{
			client: mgr.GetClient(),
			probe:  probe,
		})
}

func (c *versionController) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := logr.FromContextOrDiscard(ctx)

	pod := &corev1.Pod{}
	err := c.client.Get(ctx, req.NamespacedName, pod)
	if err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(fmt.Errorf("getting pod: %w", err))
	}

	owner := pod.Labels["app.kubernetes.io/name"]
	if owner == "" {
		return ctrl.Result{}, nil
	}
	if !podRunning(pod) {
		return ctrl.Result{}, nil // not ready for exec, the next pod event will retry
	}

	pgw := &apiv1.Pushgateway{}
	err = c.client.Get(ctx, types.NamespacedName{Name: owner, Namespace: pod.Namespace}, pgw)
	if err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(fmt.Errorf("getting pushgateway resource: %w", err))
	}

	version, err := c.probe.WorkloadVersion(ctx, pod)
	if err != nil {
		// Cannot set the workload version yet - not fatal, just stale.
		logger.V(1).Info("could not determine workload version", "podName", pod.Name, "error", err.Error())
		return ctrl.Result{}, nil
	}
	if pgw.Status.Version == version {
		return ctrl.Result{}, nil
	}

	pgw.Status.Version = version
	if err := c.client.Status().Update(ctx, pgw); err != nil {
		return ctrl.Result{}, fmt.Errorf("updating pushgateway status: %w", err)
	}
	logger.Info("recorded workload version", "pushgatewayName", pgw.Name, "version", version)
	return ctrl.Result{}, nil
}

func podRunning(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name == "pushgateway" && status.State.Running != nil {
			return true
		}
	}
	return false
}
