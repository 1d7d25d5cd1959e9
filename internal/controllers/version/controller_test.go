package version

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/testutil"
)

func newWorkloadPod(name, owner string, running bool) *corev1.Pod {
	pod := &corev1.Pod{}
	pod.Name = name
	pod.Namespace = "default"
	pod.Labels = map[string]string{"app.kubernetes.io/name": owner}
	if running {
		pod.Status.ContainerStatuses = []corev1.ContainerStatus{{
			Name:  "pushgateway",
			State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
		}}
	}
	return pod
}

func TestReconcileRecordsVersion(t *testing.T) {
	cli := testutil.NewClient(t)
	ctx := testutil.NewContext(t)

	pgw := &apiv1.Pushgateway{}
	pgw.Name = "pushgateway"
	pgw.Namespace = "default"
	require.NoError(t, cli.Create(ctx, pgw))

	pod := newWorkloadPod("pushgateway-0", pgw.Name, true)
	require.NoError(t, cli.Create(ctx, pod))

	c := &versionController{
		client: cli,
		probe: ProbeFunc(func(ctx context.Context, pod *corev1.Pod) (string, error) {
			return "1.6.2", nil
		}),
	}

	_, err := c.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(pod)})
	require.NoError(t, err)

	require.NoError(t, cli.Get(ctx, client.ObjectKeyFromObject(pgw), pgw))
	assert.Equal(t, "1.6.2", pgw.Status.Version)
}

func TestReconcileSkipsNotRunningPod(t *testing.T) {
	cli := testutil.NewClient(t)
	ctx := testutil.NewContext(t)

	pgw := &apiv1.Pushgateway{}
	pgw.Name = "pushgateway"
	pgw.Namespace = "default"
	require.NoError(t, cli.Create(ctx, pgw))

	pod := newWorkloadPod("pushgateway-0", pgw.Name, false)
	require.NoError(t, cli.Create(ctx, pod))

	probed := false
	c := &versionController{
		client: cli,
		probe: ProbeFunc(func(ctx context.Context, pod *corev1.Pod) (string, error) {
			probed = true
			return "1.6.2", nil
		}),
	}

	_, err := c.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(pod)})
	require.NoError(t, err)
	assert.False(t, probed)

	require.NoError(t, cli.Get(ctx, client.ObjectKeyFromObject(pgw), pgw))
	assert.Empty(t, pgw.Status.Version)
}

func TestReconcileProbeFailureIsNotFatal(t *testing.T) {
	cli := testutil.NewClient(t)
	ctx := testutil.NewContext(t)

	pgw := &apiv1.Pushgateway{}
	pgw.Name = "pushgateway"
	pgw.Namespace = "default"
	require.NoError(t, cli.Create(ctx, pgw))

	pod := newWorkloadPod("pushgateway-0", pgw.Name, true)
	require.NoError(t, cli.Create(ctx, pod))

	c := &versionController{
		client: cli,
		probe: ProbeFunc(func(ctx context.Context, pod *corev1.Pod) (string, error) {
			return "", errors.New("container not ready for exec")
		}),
	}

	result, err := c.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(pod)})
	require.NoError(t, err)
	assert.Zero(t, result)

	require.NoError(t, cli.Get(ctx, client.ObjectKeyFromObject(pgw), pgw))
	assert.Empty(t, pgw.Status.Version)
}

func TestReconcileIgnoresUnlabeledPod(t *testing.T) {
	cli := testutil.NewClient(t)
	ctx := testutil.NewContext(t)

	pod := &corev1.Pod{}
	pod.Name = "unrelated"
	pod.Namespace = "default"
	require.NoError(t, cli.Create(ctx, pod))

	probed := false
	c := &versionController{
		client: cli,
		probe: ProbeFunc(func(ctx context.Context, pod *corev1.Pod) (string, error) {
			probed = true
			return "", nil
		}),
	}

	_, err := c.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(pod)})
	require.NoError(t, err)
	assert.False(t, probed)
}
