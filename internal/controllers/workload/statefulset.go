package workload

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/manager"
	"github.com/canonical/prometheus-pushgateway-k8s-operator/internal/reconcile"
)

const (
	workloadContainerName  = "pushgateway"
	defaultImage           = "quay.io/prometheus/pushgateway:v1.6.2"
	forwarderContainerName = "log-forwarder"
	forwarderImage         = "docker.io/grafana/promtail:2.9.2"

	logProxyAnnotation     = "pushgateway.canonical.io/log-proxy"
	configDigestAnnotation = "pushgateway.canonical.io/config-digest"
	applyIDAnnotation      = "pushgateway.canonical.io/apply-id"

	dataVolumeName   = "data"
	configVolumeName = "config"
)

// configFileKeys maps generated file paths onto secret data keys. Secrets
// can't hold slashes in keys, and the mapping has to be invertible so the
// observed state can be reconstructed for the idempotence comparison.
var configFileKeys = map[string]string{
	reconcile.WebConfigPath:          "web-config.yml",
	reconcile.TLSCertPath:            "tls.crt",
	reconcile.TLSKeyPath:             "tls.key",
	reconcile.TLSCAPath:              "ca.crt",
	reconcile.LogForwarderConfigPath: "promtail.yml",
}

var configFilePaths = func() map[string]string {
	inverse := make(map[string]string, len(configFileKeys))
	for path, key := range configFileKeys {
		inverse[key] = path
	}
	return inverse
}()

func configSecretName(pgw *apiv1.Pushgateway) string {
	return pgw.Name + "-config"
}

func configSecretData(desired *reconcile.WorkloadConfig) map[string][]byte {
	data := map[string][]byte{}
	for path, content := range desired.Files {
		if key, ok := configFileKeys[path]; ok {
			data[key] = []byte(content)
		}
	}
	return data
}

func workloadLabels(pgw *apiv1.Pushgateway) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name": pgw.Name,
		manager.ManagerLabelKey:  manager.ManagerLabelValue,
	}
}

func selectorLabels(pgw *apiv1.Pushgateway) map[string]string {
	return map[string]string{"app.kubernetes.io/name": pgw.Name}
}

// configDigest fingerprints the generated files so the pod template changes,
// and the kubelet restarts the workload, whenever file contents change even
// though the argv stays the same.
func configDigest(desired *reconcile.WorkloadConfig) string {
	paths := make([]string, 0, len(desired.Files))
	for path := range desired.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	hash := sha256.New()
	for _, path := range paths {
		fmt.Fprintf(hash, "%s\x00%s\x00", path, desired.Files[path])
	}
	return fmt.Sprintf("%x", hash.Sum(nil))
}

func updateStatefulSet(sts *appsv1.StatefulSet, pgw *apiv1.Pushgateway, desired *reconcile.WorkloadConfig, applyID string) {
	sts.Labels = workloadLabels(pgw)
	if sts.Annotations == nil {
		sts.Annotations = map[string]string{}
	}
	sts.Annotations[applyIDAnnotation] = applyID
	if desired.LogProxyURL == "" {
		delete(sts.Annotations, logProxyAnnotation)
	} else {
		sts.Annotations[logProxyAnnotation] = desired.LogProxyURL
	}

	image := pgw.Spec.Image
	if image == "" {
		image = defaultImage
	}

	containers := []corev1.Container{{
		Name:    workloadContainerName,
		Image:   image,
		Command: desired.Command,
		Ports: []corev1.ContainerPort{{
			Name:          "http",
			ContainerPort: reconcile.Port,
		}},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt(reconcile.Port)},
			},
		},
		VolumeMounts: workloadMounts(desired),
	}}
	if desired.LogProxyURL != "" {
		containers = append(containers, corev1.Container{
			Name:  forwarderContainerName,
			Image: forwarderImage,
			Args:  []string{"-config.file=" + reconcile.LogForwarderConfigPath},
			VolumeMounts: []corev1.VolumeMount{
				{
					Name:      configVolumeName,
					MountPath: filepath.Dir(reconcile.LogForwarderConfigPath),
					ReadOnly:  true,
				},
				{
					Name:      "pod-logs",
					MountPath: "/var/log/pods",
					ReadOnly:  true,
				},
			},
		})
	}

	sts.Spec.Replicas = pgw.Spec.Replicas
	sts.Spec.ServiceName = pgw.Name
	sts.Spec.Selector = &metav1.LabelSelector{MatchLabels: selectorLabels(pgw)}
	sts.Spec.Template.Labels = workloadLabels(pgw)
	sts.Spec.Template.Annotations = map[string]string{
		configDigestAnnotation: configDigest(desired),
	}
	sts.Spec.Template.Spec.Containers = containers
	sts.Spec.Template.Spec.Volumes = workloadVolumes(pgw, desired)

	// The persistence file has to survive restarts, so /data is backed by
	// a volume claim instead of pod-local storage.
	if len(sts.Spec.VolumeClaimTemplates) == 0 {
		sts.Spec.VolumeClaimTemplates = []corev1.PersistentVolumeClaim{{
			ObjectMeta: metav1.ObjectMeta{Name: dataVolumeName},
			Spec: corev1.PersistentVolumeClaimSpec{
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceStorage: resource.MustParse("1Gi"),
					},
				},
			},
		}}
	}
}

func workloadMounts(desired *reconcile.WorkloadConfig) []corev1.VolumeMount {
	mounts := []corev1.VolumeMount{{
		Name:      dataVolumeName,
		MountPath: filepath.Dir(reconcile.PersistenceFilePath),
	}}
	if _, ok := desired.Files[reconcile.WebConfigPath]; ok {
		mounts = append(mounts,
			corev1.VolumeMount{
				Name:      configVolumeName,
				MountPath: filepath.Dir(reconcile.WebConfigPath),
				ReadOnly:  true,
			},
		)
	}
	return mounts
}

func workloadVolumes(pgw *apiv1.Pushgateway, desired *reconcile.WorkloadConfig) []corev1.Volume {
	if len(desired.Files) == 0 {
		return nil
	}

	var items []corev1.KeyToPath
	for path, key := range configFileKeys {
		if _, ok := desired.Files[path]; !ok {
			continue
		}
		rel, _ := filepath.Rel(filepath.Dir(reconcile.WebConfigPath), path)
		if path == reconcile.LogForwarderConfigPath {
			rel = filepath.Base(path)
		}
		items = append(items, corev1.KeyToPath{Key: key, Path: rel})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	volumes := []corev1.Volume{{
		Name: configVolumeName,
		VolumeSource: corev1.VolumeSource{
			Secret: &corev1.SecretVolumeSource{
				SecretName: configSecretName(pgw),
				Items:      items,
			},
		},
	}}
	if desired.LogProxyURL != "" {
		volumes = append(volumes, corev1.Volume{
			Name: "pod-logs",
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{
					Path: "/var/log/pods",
					Type: ptr.To(corev1.HostPathDirectory),
				},
			},
		})
	}
	return volumes
}

func updateService(svc *corev1.Service, pgw *apiv1.Pushgateway) {
	svc.Labels = workloadLabels(pgw)
	svc.Spec.Selector = selectorLabels(pgw)
	svc.Spec.Ports = []corev1.ServicePort{{
		Name:       "http",
		Port:       reconcile.Port,
		TargetPort: intstr.FromInt(reconcile.Port),
	}}
}
