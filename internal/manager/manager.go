package manager

import (
	"context"
	"fmt"
	"os"

	"net/http"
	_ "net/http/pprof"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
)

const (
	IdxIntegrationsByOwner = ".integrationsByOwner"

	ManagerLabelKey   = "app.kubernetes.io/managed-by"
	ManagerLabelValue = "pushgateway-operator"
)

func init() {
	go func() {
		if addr := os.Getenv("PPROF_ADDR"); addr != "" {
			err := http.ListenAndServe(addr, nil)
			panic(fmt.Sprintf("unable to serve pprof listener: %s", err))
		}
	}()
}

func New(logger logr.Logger, opts *Options) (ctrl.Manager, error) {
	opts.Rest.QPS = float32(opts.qps)

	scheme := runtime.NewScheme()
	err := apiv1.SchemeBuilder.AddToScheme(scheme)
	if err != nil {
		return nil, err
	}
	err = corev1.SchemeBuilder.AddToScheme(scheme)
	if err != nil {
		return nil, err
	}
	err = appsv1.SchemeBuilder.AddToScheme(scheme)
	if err != nil {
		return nil, err
	}

	mgrOpts := manager.Options{
		Logger:                 logger,
		HealthProbeBindAddress: opts.HealthProbeAddr,
		Scheme:                 scheme,
		LeaderElection:         opts.LeaderElection,
		LeaderElectionID:       opts.LeaderElectionID,
		Metrics: server.Options{
			BindAddress: opts.MetricsAddr,
		},
	}

	// Workload pods carry the manager label through the pod template, so
	// only pods belonging to a managed pushgateway land in the cache.
	podLabelSelector := labels.SelectorFromSet(labels.Set{ManagerLabelKey: ManagerLabelValue})
	if opts.Namespace == "" {
		mgrOpts.Cache.ByObject = map[client.Object]cache.ByObject{
			&corev1.Pod{}: {Label: podLabelSelector},
		}
	} else {
		mgrOpts.Cache.ByObject = map[client.Object]cache.ByObject{
			&corev1.Pod{}: {
				Namespaces: map[string]cache.Config{
					opts.Namespace: {
						LabelSelector: podLabelSelector,
					},
				},
			},
		}

		mgrOpts.Cache.DefaultNamespaces = map[string]cache.Config{
			opts.Namespace: {},
		}
	}

	mgr, err := ctrl.NewManager(opts.Rest, mgrOpts)
	if err != nil {
		return nil, err
	}

	err = mgr.GetFieldIndexer().IndexField(context.Background(), &apiv1.Integration{}, IdxIntegrationsByOwner, func(o client.Object) []string {
		rec := o.(*apiv1.Integration)
		if owner := rec.Owner(); owner != "" {
			return []string{owner}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mgr.AddHealthzCheck("ping", healthz.Ping)

	return mgr, nil
}

func NewLogConstructor(mgr ctrl.Manager, controllerName string) func(*reconcile.Request) logr.Logger {
	return func(req *reconcile.Request) logr.Logger {
		l := mgr.GetLogger().WithValues("controller", controllerName)
		if req != nil {
			l.WithValues("requestName", req.Name, "requestNamespace", req.Namespace)
		}
		return l
	}
}

// NewIntegrationToPushgatewayHandler enqueues the owning Pushgateway
// whenever one of its integration records changes, so relation data updates
// re-trigger reconciliation the same way lifecycle events do.
func NewIntegrationToPushgatewayHandler() handler.EventHandler {
	enqueueOwner := func(o client.Object, rli workqueue.RateLimitingInterface) {
		rec, ok := o.(*apiv1.Integration)
		if !ok {
			return
		}
		owner := rec.Owner()
		if owner == "" {
			return
		}
		rli.Add(reconcile.Request{NamespacedName: types.NamespacedName{Name: owner, Namespace: rec.Namespace}})
	}
	return &handler.Funcs{
		CreateFunc: func(ctx context.Context, ce event.CreateEvent, rli workqueue.RateLimitingInterface) {
			enqueueOwner(ce.Object, rli)
		},
		UpdateFunc: func(ctx context.Context, ue event.UpdateEvent, rli workqueue.RateLimitingInterface) {
			enqueueOwner(ue.ObjectNew, rli)
		},
		DeleteFunc: func(ctx context.Context, de event.DeleteEvent, rli workqueue.RateLimitingInterface) {
			enqueueOwner(de.Object, rli)
		},
	}
}
