// +kubebuilder:object:generate=true
// +groupName=pushgateway.canonical.io
package v1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

//go:generate go run sigs.k8s.io/controller-tools/cmd/controller-gen object crd rbac:roleName=pushgateway-operator paths=./...

var (
	SchemeGroupVersion = schema.GroupVersion{Group: "pushgateway.canonical.io", Version: "v1"}
	SchemeBuilder      = &scheme.Builder{GroupVersion: SchemeGroupVersion}
)

func init() {
	SchemeBuilder.Register(&PushgatewayList{}, &Pushgateway{})
	SchemeBuilder.Register(&IntegrationList{}, &Integration{})
}
