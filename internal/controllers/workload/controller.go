package workload

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/manager"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/reconcile"
)

type workloadController struct {
	client  client.Client
	elected <-chan struct{}
}

// NewController reconciles Pushgateway resources into the managed workload:
// a StatefulSet running the pushgateway binary, its Service, and the secret
// holding generated config files. The apply is idempotent: when the observed
// workload already matches the desired configuration, nothing is written.
func NewController(mgr ctrl.Manager) error {
	c := &workloadController{
		client:  mgr.GetClient(),
		elected: mgr.Elected(),
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&apiv1.Pushgateway{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.Secret{}).
		Watches(&apiv1.Integration{}, manager.NewIntegrationToPushgatewayHandler()).
		WithLogConstructor(manager.NewLogConstructor(mgr, "workloadController")).
		Complete(c)
}

func (c *workloadController) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := logr.FromContextOrDiscard(ctx)

	pgw := &apiv1.Pushgateway{}
	err := c.client.Get(ctx, req.NamespacedName, pgw)
	if err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(fmt.Errorf("getting pushgateway resource: %w", err))
	}
	logger = logger.WithValues("pushgatewayName", pgw.Name, "pushgatewayNamespace", pgw.Namespace, "pushgatewayGeneration", pgw.Generation)
	ctx = logr.NewContext(ctx, logger)

	inputs, err := c.gatherInputs(ctx, pgw)
	if err != nil {
		return ctrl.Result{}, err
	}

	reconciliations.Inc()
	outcome, err := reconcile.Compute(inputs)
	confErr := &reconcile.ConfigurationError{}
	if errors.As(err, &confErr) {
		// Blocked requires operator correction - do not requeue.
		blockedReconciliations.Inc()
		logger.Info("configuration is invalid, workload left untouched", "reason", confErr.Error())
		return ctrl.Result{}, c.updateStatus(ctx, pgw, outcome)
	}
	if err != nil {
		return ctrl.Result{}, err
	}

	if outcome.Pending != nil {
		logger.V(1).Info("deferring reconciliation", "dependency", outcome.Pending.Dependency)
		return ctrl.Result{}, c.updateStatus(ctx, pgw, outcome)
	}

	if outcome.NeedsApply {
		applyID := uuid.NewString()
		if err := c.apply(ctx, pgw, outcome.Desired, applyID); err != nil {
			return ctrl.Result{}, fmt.Errorf("applying workload configuration: %w", err)
		}
		applies.Inc()
		logger.Info("applied workload configuration", "applyID", applyID)
	}

	return ctrl.Result{}, c.updateStatus(ctx, pgw, outcome)
}

// gatherInputs reads everything the computation is allowed to see: the
// inbound integration records and the currently applied workload state.
func (c *workloadController) gatherInputs(ctx context.Context, pgw *apiv1.Pushgateway) (reconcile.Inputs, error) {
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

	observed, err := c.observedState(ctx, pgw)
	if err != nil {
		return reconcile.Inputs{}, err
	}

	return reconcile.Inputs{
		Integrations:   integrations,
		Config:         configFromSpec(pgw),
		Observed:       observed,
		Leader:         c.isLeader(),
		ImageAvailable: true, // images are pulled by the kubelet, not by us
	}, nil
}

// observedState reads the currently applied configuration back from the
// cluster. Returns nil when the workload has not been started yet.
func (c *workloadController) observedState(ctx context.Context, pgw *apiv1.Pushgateway) (*reconcile.WorkloadConfig, error) {
	sts := &appsv1.StatefulSet{}
	err := c.client.Get(ctx, client.ObjectKeyFromObject(pgw), sts)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting workload statefulset: %w", err)
	}

	observed := &reconcile.WorkloadConfig{
		Files:       map[string]string{},
		LogProxyURL: sts.Annotations[logProxyAnnotation],
	}
	for _, container := range sts.Spec.Template.Spec.Containers {
		if container.Name == workloadContainerName {
			observed.Command = container.Command
		}
	}

	secret := &corev1.Secret{}
	err = c.client.Get(ctx, types.NamespacedName{Name: configSecretName(pgw), Namespace: pgw.Namespace}, secret)
	if apierrors.IsNotFound(err) {
		return observed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting config secret: %w", err)
	}
	for key, content := range secret.Data {
		if path, ok := configFilePaths[key]; ok {
			observed.Files[path] = string(content)
		}
	}
	return observed, nil
}

func (c *workloadController) apply(ctx context.Context, pgw *apiv1.Pushgateway, desired *reconcile.WorkloadConfig, applyID string) error {
	scheme := c.client.Scheme()

	secret := &corev1.Secret{}
	secret.Name = configSecretName(pgw)
	secret.Namespace = pgw.Namespace
	_, err := controllerutil.CreateOrUpdate(ctx, c.client, secret, func() error {
		secret.Labels = workloadLabels(pgw)
		secret.Data = configSecretData(desired)
		return controllerutil.SetControllerReference(pgw, secret, scheme)
	})
	if err != nil {
		return fmt.Errorf("updating config secret: %w", err)
	}

	sts := &appsv1.StatefulSet{}
	sts.Name = pgw.Name
	sts.Namespace = pgw.Namespace
	_, err = controllerutil.CreateOrUpdate(ctx, c.client, sts, func() error {
		updateStatefulSet(sts, pgw, desired, applyID)
		return controllerutil.SetControllerReference(pgw, sts, scheme)
	})
	if err != nil {
		return fmt.Errorf("updating workload statefulset: %w", err)
	}

	svc := &corev1.Service{}
	svc.Name = pgw.Name
	svc.Namespace = pgw.Namespace
	_, err = controllerutil.CreateOrUpdate(ctx, c.client, svc, func() error {
		updateService(svc, pgw)
		return controllerutil.SetControllerReference(pgw, svc, scheme)
	})
	if err != nil {
		return fmt.Errorf("updating workload service: %w", err)
	}

	return nil
}

func (c *workloadController) updateStatus(ctx context.Context, pgw *apiv1.Pushgateway, outcome reconcile.Outcome) error {
	next := pgw.Status.DeepCopy()
	next.State = outcome.Status.State
	next.Message = outcome.Status.Message
	next.ObservedGeneration = pgw.Generation
	if outcome.Desired != nil {
		next.AppliedCommand = outcome.Desired.Command
	}

	if reflect.DeepEqual(&pgw.Status, next) {
		return nil
	}
	pgw.Status = *next
	if err := c.client.Status().Update(ctx, pgw); err != nil {
		return fmt.Errorf("updating pushgateway status: %w", err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("updated pushgateway status", "state", next.State, "message", next.Message)
	return nil
}

// isLeader reports whether this manager instance currently holds
// leadership. The election itself belongs to the host runtime.
func (c *workloadController) isLeader() bool {
	select {
	case <-c.elected:
		return true
	default:
		return false
	}
}

func configFromSpec(pgw *apiv1.Pushgateway) reconcile.Config {
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
	return cfg
}
