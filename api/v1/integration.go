package v1

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

// OwnerLabelKey associates an Integration record with the Pushgateway it
// belongs to.
const OwnerLabelKey = "pushgateway.canonical.io/owner"

// +kubebuilder:object:root=true
type IntegrationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Integration `json:"items"`
}

// Integration is one record on the relation bus: a flat key-value mapping
// exchanged with a neighboring component. Inbound records are written by the
// neighbor and only read here; outbound records are owned by the operator and
// overwritten in full on every reconciliation.
//
// +kubebuilder:object:root=true
// +kubebuilder:printcolumn:name="Kind",type=string,JSONPath=`.spec.kind`
// +kubebuilder:printcolumn:name="Direction",type=string,JSONPath=`.spec.direction`
type Integration struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec IntegrationSpec `json:"spec,omitempty"`
}

type IntegrationSpec struct {
	// +kubebuilder:validation:Enum=metrics-endpoint;push-endpoint;certificates;ingress;catalogue;log-proxy
	Kind IntegrationKind `json:"kind"`

	// +kubebuilder:validation:Enum=inbound;outbound
	Direction IntegrationDirection `json:"direction"`

	Data map[string]string `json:"data,omitempty"`
}

type IntegrationKind string

const (
	IntegrationMetricsEndpoint IntegrationKind = "metrics-endpoint"
	IntegrationPushEndpoint    IntegrationKind = "push-endpoint"
	IntegrationCertificates    IntegrationKind = "certificates"
	IntegrationIngress         IntegrationKind = "ingress"
	IntegrationCatalogue       IntegrationKind = "catalogue"
	IntegrationLogProxy        IntegrationKind = "log-proxy"
)

// KnownKinds returns every integration kind in stable order.
func KnownKinds() []IntegrationKind {
	return []IntegrationKind{
		IntegrationMetricsEndpoint,
		IntegrationPushEndpoint,
		IntegrationCertificates,
		IntegrationIngress,
		IntegrationCatalogue,
		IntegrationLogProxy,
	}
}

// Valid returns false for kinds this operator does not understand.
func (k IntegrationKind) Valid() bool {
	for _, known := range KnownKinds() {
		if k == known {
			return true
		}
	}
	return false
}

type IntegrationDirection string

const (
	DirectionInbound  IntegrationDirection = "inbound"
	DirectionOutbound IntegrationDirection = "outbound"
)

// Owner returns the name of the Pushgateway this record belongs to, or an
// empty string for unowned records.
func (i *Integration) Owner() string {
	if i.Labels == nil {
		return ""
	}
	return i.Labels[OwnerLabelKey]
}
