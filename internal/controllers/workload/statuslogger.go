package workload

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/manager"
)

type statusLogger struct {
	client client.Client
	logFn  func(ctx context.Context, msg string, args ...any)
}

// NewStatusLogger writes one log line per status transition so the coarse
// state signal ends up in the operator logs, not only on the resource.
func NewStatusLogger(mgr ctrl.Manager) error {
	c := &statusLogger{
		client: mgr.GetClient(),
		logFn: func(ctx context.Context, msg string, args ...any) {
			logr.FromContextOrDiscard(ctx).V(0).Info(msg, args...)
		},
	}
	return ctrl.NewControllerManagedBy(mgr).
		WithOptions(controller.Options{
			// Hardcoded safety limit to avoid spewing too many logs
			RateLimiter: &workqueue.BucketRateLimiter{Limiter: rate.NewLimiter(rate.Every(time.Second), 50)},
		}).
		For(&apiv1.Pushgateway{}, builder.WithPredicates(c.newPredicate())).
		WithLogConstructor(manager.NewLogConstructor(mgr, "statusLogger")).
		Complete(c)
}

func (c *statusLogger) newPredicate() predicate.Predicate {
	return &predicate.Funcs{
		CreateFunc:  func(ce event.CreateEvent) bool { return true },
		DeleteFunc:  func(de event.DeleteEvent) bool { return false },
		GenericFunc: func(ge event.GenericEvent) bool { return false },
		UpdateFunc: func(ue event.UpdateEvent) bool {
			pgwA, okA := ue.ObjectNew.(*apiv1.Pushgateway)
			pgwB, okB := ue.ObjectOld.(*apiv1.Pushgateway)
			return okA && okB && (pgwA.Status.State != pgwB.Status.State || pgwA.Status.Message != pgwB.Status.Message)
		},
	}
}

func (c *statusLogger) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	pgw := &apiv1.Pushgateway{}
	err := c.client.Get(ctx, req.NamespacedName, pgw)
	if err != nil || pgw.Status.State == "" {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	c.logFn(ctx, "current pushgateway status",
		"pushgatewayName", pgw.Name,
		"pushgatewayNamespace", pgw.Namespace,
		"pushgatewayGeneration", pgw.Generation,
		"state", pgw.Status.State,
		"message", pgw.Status.Message,
		"version", pgw.Status.Version,
	)
	return ctrl.Result{}, nil
}
