// Package publication owns the outbound half of the relation bus: the
// records this component advertises to its neighbors. Records are always
// rewritten in full from the current computation, never patched, so stale
// keys cannot survive a reconfiguration.
package publication

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/util/flowcontrol"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/manager"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/reconcile"
)

type publicationController struct {
	client     client.Client
	elected    <-chan struct{}
	writeLimit flowcontrol.RateLimiter
}

func NewController(mgr ctrl.Manager, writeQPS float64) error {
	c := &publicationController{
		client:     mgr.GetClient(),
		elected:    mgr.Elected(),
		writeLimit: flowcontrol.NewTokenBucketRateLimiter(float32(writeQPS), 1),
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&apiv1.Pushgateway{}).
		Watches(&apiv1.Integration{}, manager.NewIntegrationToPushgatewayHandler()).
		WithLogConstructor(manager.NewLogConstructor(mgr, "publicationController")).
		Complete(c)
}

func (c *publicationController) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := logr.FromContextOrDiscard(ctx)

	pgw := &apiv1.Pushgateway{}
	err := c.client.Get(ctx, req.NamespacedName, pgw)
	if err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(fmt.Errorf("getting pushgateway resource: %w", err))
	}

	inputs, err := c.gatherInputs(ctx, pgw)
	if err != nil {
		return ctrl.Result{}, err
	}

	outcome, err := reconcile.Compute(inputs)
	if err != nil || outcome.Pending != nil || len(outcome.Outbound) == 0 {
		// Blocked, deferred, or not the leader - nothing to publish. The
		// workload controller owns reporting those conditions.
		return ctrl.Result{}, nil
	}

	if !c.writeLimit.TryAccept() {
		return ctrl.Result{RequeueAfter: time.Second}, nil
	}

	for _, record := range outcome.Outbound {
		written, err := c.writeRecord(ctx, pgw, record)
		if err != nil {
			return ctrl.Result{}, fmt.Errorf("writing %s record: %w", record.Kind, err)
		}
		if written {
			publishedRecords.Inc()
			logger.V(1).Info("published integration record", "kind", record.Kind, "pushgatewayName", pgw.Name)
		}
	}
	return ctrl.Result{}, nil
}

func (c *publicationController) writeRecord(ctx context.Context, pgw *apiv1.Pushgateway, record reconcile.OutboundRecord) (bool, error) {
	rec := &apiv1.Integration{}
	rec.Name = fmt.Sprintf("%s-%s", pgw.Name, record.Kind)
	rec.Namespace = pgw.Namespace
	result, err := controllerutil.CreateOrUpdate(ctx, c.client, rec, func() error {
		rec.Labels = map[string]string{
			apiv1.OwnerLabelKey:     pgw.Name,
			manager.ManagerLabelKey: manager.ManagerLabelValue,
		}
		rec.Spec.Kind = record.Kind
		rec.Spec.Direction = apiv1.DirectionOutbound
		rec.Spec.Data = map[string]string(record.Data)
		return controllerutil.SetControllerReference(pgw, rec, c.client.Scheme())
	})
	if err != nil {
		return false, err
	}
	return result != controllerutil.OperationResultNone, nil
}

func (c *publicationController) gatherInputs(ctx context.Context, pgw *apiv1.Pushgateway) (reconcile.Inputs, error) {
	list := &apiv1.IntegrationList{}
	err := c.client.List(ctx, list, client.InNamespace(pgw.Namespace), client.MatchingFields{
		manager.IdxIntegrationsByOwner: pgw.Name,
	})
	if err != nil {
		return reconcile.Inputs{}, fmt.Errorf("listing integration records: %w", err)
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })

	integrations := map[apiv1.IntegrationKind][]reconcile.Record{}
	for _, item := range list.Items {
		if item.Spec.Direction != apiv1.DirectionInbound || !item.Spec.Kind.Valid() {
			continue
		}
		integrations[item.Spec.Kind] = append(integrations[item.Spec.Kind], reconcile.Record(item.Spec.Data))
	}

	cfg := reconcile.Config{
		AppName:        pgw.Name,
		ServiceFQDN:    fmt.Sprintf("%s.%s.svc.cluster.local", pgw.Name, pgw.Namespace),
		Image:          pgw.Spec.Image,
		LogLevel:       pgw.Spec.LogLevel,
		WebRoutePrefix: pgw.Spec.WebRoutePrefix,
		TLSRequired:    pgw.Spec.TLSRequired,
	}
	if pgw.Spec.PersistenceInterval != nil {
		cfg.PersistenceInterval = pgw.Spec.PersistenceInterval.Duration
	}

	return reconcile.Inputs{
		Integrations:   integrations,
		Config:         cfg,
		Leader:         c.isLeader(),
		ImageAvailable: true,
	}, nil
}

func (c *publicationController) isLeader() bool {
	select {
	case <-c.elected:
		return true
	default:
		return false
	}
}
