package version

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/pushgateway"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/reconcile"
)

// Probe reports the version of the workload binary running in a pod.
type Probe interface {
	WorkloadVersion(ctx context.Context, pod *corev1.Pod) (string, error)
}

type ProbeFunc func(ctx context.Context, pod *corev1.Pod) (string, error)

func (p ProbeFunc) WorkloadVersion(ctx context.Context, pod *corev1.Pod) (string, error) {
	return p(ctx, pod)
}

type podProbe struct {
	execClient rest.Interface
	scheme     *runtime.Scheme
	restConfig *rest.Config
}

func NewPodProbe(mgr ctrl.Manager) (Probe, error) {
	gvk := schema.GroupVersionKind{Group: "", Version: "v1", Kind: "Pod"}
	execClient, err := apiutil.RESTClientForGVK(gvk, false, mgr.GetConfig(), serializer.NewCodecFactory(mgr.GetScheme()), mgr.GetHTTPClient())
	if err != nil {
		return nil, err
	}

	return &podProbe{
		execClient: execClient,
		scheme:     mgr.GetScheme(),
		restConfig: mgr.GetConfig(),
	}, nil
}

func (p *podProbe) WorkloadVersion(ctx context.Context, pod *corev1.Pod) (string, error) {
	req := p.execClient.
		Post().
		Namespace(pod.Namespace).
		Resource("pods").
		Name(pod.Name).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: "pushgateway",
			Command:   []string{reconcile.BinaryPath, "--version"},
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, runtime.NewParameterCodec(p.scheme))

	executor, err := remotecommand.NewSPDYExecutor(p.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("creating remote command executor: %w", err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return "", fmt.Errorf("running version command: %w", err)
	}

	// The binary prints version details to stderr.
	output := stdout.String()
	if output == "" {
		output = stderr.String()
	}
	return pushgateway.ParseVersion(output)
}
