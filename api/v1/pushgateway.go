package v1

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

// +kubebuilder:object:root=true
type PushgatewayList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Pushgateway `json:"items"`
}

// Pushgateway declares a single managed Prometheus Pushgateway workload.
// The operator reconciles it together with its inbound Integration records
// into a StatefulSet, a Service, and the workload's generated config files.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.status.version`
type Pushgateway struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PushgatewaySpec   `json:"spec,omitempty"`
	Status PushgatewayStatus `json:"status,omitempty"`
}

type PushgatewaySpec struct {
	// Image of the pre-built pushgateway binary. The operator never builds
	// or modifies the workload itself.
	// +kubebuilder:default="quay.io/prometheus/pushgateway:v1.6.2"
	Image string `json:"image,omitempty"`

	// Verbosity of the managed process. One of: debug, info, warning, error.
	// +kubebuilder:default="info"
	LogLevel string `json:"logLevel,omitempty"`

	// Path prefix to serve under when behind an ingress. When empty and an
	// ingress integration is present, the prefix is derived from the
	// ingress URL.
	WebRoutePrefix string `json:"webRoutePrefix,omitempty"`

	// When true, the workload will not be configured until a certificates
	// integration has provided a server certificate.
	TLSRequired bool `json:"tlsRequired,omitempty"`

	// How often pushed metrics are flushed to the persistence file.
	PersistenceInterval *metav1.Duration `json:"persistenceInterval,omitempty"`

	// +kubebuilder:default=1
	Replicas *int32 `json:"replicas,omitempty"`
}

type PushgatewayStatus struct {
	State              State    `json:"state,omitempty"`
	Message            string   `json:"message,omitempty"`
	Version            string   `json:"version,omitempty"`
	AppliedCommand     []string `json:"appliedCommand,omitempty"`
	ObservedGeneration int64    `json:"observedGeneration,omitempty"`
}

// State is the coarse health signal reported to operators.
// It is re-derived from scratch on every reconciliation.
type State string

const (
	// StateWaiting means a mandatory dependency has not arrived yet. It
	// resolves itself once the dependency appears.
	StateWaiting State = "waiting"

	// StateBlocked means the local configuration is invalid and requires
	// operator correction. It is never retried automatically.
	StateBlocked State = "blocked"

	// StateMaintenance means an apply is in flight.
	StateMaintenance State = "maintenance"

	// StateActive means the observed workload matches the desired
	// configuration.
	StateActive State = "active"
)
