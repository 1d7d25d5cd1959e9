package reconcile

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
)

func newInputs() Inputs {
	return Inputs{
		Integrations: map[apiv1.IntegrationKind][]Record{},
		Config: Config{
			AppName:     "pushgateway",
			ServiceFQDN: "pushgateway.default.svc.cluster.local",
			LogLevel:    "info",
		},
		Leader:         true,
		ImageAvailable: true,
	}
}

func TestComputeMinimal(t *testing.T) {
	outcome, err := Compute(newInputs())
	require.NoError(t, err)
	require.NotNil(t, outcome.Desired)

	assert.Equal(t, []string{
		BinaryPath,
		"--web.listen-address=:9091",
		"--persistence.file=/data/metrics",
		"--persistence.interval=5m0s",
		"--log.level=info",
	}, outcome.Desired.Command)
	assert.Empty(t, outcome.Desired.Files)
	assert.True(t, outcome.NeedsApply)
	assert.Equal(t, apiv1.StateMaintenance, outcome.Status.State)
}

func TestComputeDeterminism(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationCertificates] = []Record{{"ca": "CA", "cert": "CERT", "key": "KEY"}}
	inputs.Integrations[apiv1.IntegrationIngress] = []Record{{"url": "https://example.test/pg"}}

	first, err := Compute(inputs)
	require.NoError(t, err)
	second, err := Compute(inputs)
	require.NoError(t, err)

	assert.Equal(t, first.Desired, second.Desired)
	assert.Equal(t, first.Outbound, second.Outbound)
	assert.Equal(t, first.Status, second.Status)
}

// TestComputeIdempotence proves that feeding the previous pass's desired
// state back in as the observed state results in no further apply, no matter
// how many unrelated events re-trigger the computation.
func TestComputeIdempotence(t *testing.T) {
	inputs := newInputs()
	first, err := Compute(inputs)
	require.NoError(t, err)
	require.True(t, first.NeedsApply)

	inputs.Observed = first.Desired
	second, err := Compute(inputs)
	require.NoError(t, err)
	assert.False(t, second.NeedsApply)
	assert.Equal(t, apiv1.StateActive, second.Status.State)
	assert.Equal(t, first.Desired, second.Desired)
}

func TestComputePersistencePolicy(t *testing.T) {
	// The persistence flag is non-negotiable: it survives every valid
	// configuration shape.
	variants := []func(*Inputs){
		func(i *Inputs) {},
		func(i *Inputs) { i.Config.LogLevel = "debug" },
		func(i *Inputs) { i.Config.WebRoutePrefix = "/push" },
		func(i *Inputs) {
			i.Integrations[apiv1.IntegrationCertificates] = []Record{{"cert": "CERT", "key": "KEY"}}
		},
		func(i *Inputs) {
			i.Integrations[apiv1.IntegrationIngress] = []Record{{"url": "http://example.test/x"}}
		},
		func(i *Inputs) { i.Leader = false },
	}
	for _, mutate := range variants {
		inputs := newInputs()
		mutate(&inputs)
		outcome, err := Compute(inputs)
		require.NoError(t, err)
		require.NotNil(t, outcome.Desired)
		assert.Contains(t, outcome.Desired.Command, "--persistence.file="+PersistenceFilePath)
	}
}

func TestComputeLogLevels(t *testing.T) {
	tests := []struct {
		configured string
		flag       string
	}{
		{"debug", "--log.level=debug"},
		{"info", "--log.level=info"},
		{"warning", "--log.level=warn"},
		{"error", "--log.level=error"},
		{"", "--log.level=info"},
	}
	for _, tc := range tests {
		t.Run("level-"+tc.configured, func(t *testing.T) {
			inputs := newInputs()
			inputs.Config.LogLevel = tc.configured
			outcome, err := Compute(inputs)
			require.NoError(t, err)
			assert.Contains(t, outcome.Desired.Command, tc.flag)
		})
	}
}

func TestComputeInvalidLogLevel(t *testing.T) {
	inputs := newInputs()
	inputs.Config.LogLevel = "verbose"

	outcome, err := Compute(inputs)
	require.Error(t, err)

	confErr := &ConfigurationError{}
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "logLevel", confErr.Option)
	assert.Nil(t, outcome.Desired)
	assert.Equal(t, apiv1.StateBlocked, outcome.Status.State)
	assert.Contains(t, outcome.Status.Message, "logLevel")
}

func TestComputeTLSPending(t *testing.T) {
	inputs := newInputs()
	inputs.Config.TLSRequired = true

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.NotNil(t, outcome.Pending)

	assert.Equal(t, apiv1.StateWaiting, outcome.Status.State)
	assert.Contains(t, outcome.Status.Message, "certificates")
	// No partial TLS flags: the desired state is withheld entirely.
	assert.Nil(t, outcome.Desired)
	assert.False(t, outcome.NeedsApply)
}

func TestComputeImageUnavailable(t *testing.T) {
	inputs := newInputs()
	inputs.ImageAvailable = false

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.NotNil(t, outcome.Pending)
	assert.Equal(t, apiv1.StateWaiting, outcome.Status.State)
	assert.Nil(t, outcome.Desired)
}

func TestComputeTLSAndIngress(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationCertificates] = []Record{{"ca": "CA", "cert": "CERT", "key": "KEY"}}
	inputs.Integrations[apiv1.IntegrationIngress] = []Record{{"url": "https://example.test/pg"}}

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.NotNil(t, outcome.Desired)

	assert.Contains(t, outcome.Desired.Command, "--web.config.file="+WebConfigPath)
	assert.Contains(t, outcome.Desired.Command, "--web.route-prefix=/pg")
	assert.Contains(t, outcome.Desired.Command, "--web.external-url=https://example.test/pg")
	assert.Equal(t, "CERT", outcome.Desired.Files[TLSCertPath])
	assert.Equal(t, "KEY", outcome.Desired.Files[TLSKeyPath])
	assert.Equal(t, "CA", outcome.Desired.Files[TLSCAPath])
	assert.Contains(t, outcome.Desired.Files[WebConfigPath], "cert_file")

	// Applying the desired state settles the workload.
	inputs.Observed = outcome.Desired
	settled, err := Compute(inputs)
	require.NoError(t, err)
	assert.False(t, settled.NeedsApply)
	assert.Equal(t, apiv1.StateActive, settled.Status.State)
}

func TestComputeCertificatesWithoutCA(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationCertificates] = []Record{{"cert": "CERT", "key": "KEY"}}

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.NotNil(t, outcome.Desired)

	_, hasCA := outcome.Desired.Files[TLSCAPath]
	assert.False(t, hasCA)
	assert.NotContains(t, outcome.Desired.Files[WebConfigPath], "client_ca_file")
}

func TestComputeConflictingIngress(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationIngress] = []Record{
		{"url": "https://a.test/pg"},
		{"url": "https://b.test/pg"},
	}

	outcome, err := Compute(inputs)
	require.Error(t, err)

	confErr := &ConfigurationError{}
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "ingress", confErr.Option)
	assert.Equal(t, apiv1.StateBlocked, outcome.Status.State)
	assert.Nil(t, outcome.Desired)
}

func TestComputeAgreeingIngress(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationIngress] = []Record{
		{"url": "https://a.test/pg"},
		{"url": "https://a.test/pg"},
	}

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	assert.Contains(t, outcome.Desired.Command, "--web.route-prefix=/pg")
}

func TestComputeExplicitRoutePrefixWins(t *testing.T) {
	inputs := newInputs()
	inputs.Config.WebRoutePrefix = "/custom"
	inputs.Integrations[apiv1.IntegrationIngress] = []Record{{"url": "https://example.test/pg"}}

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	assert.Contains(t, outcome.Desired.Command, "--web.route-prefix=/custom")
	assert.NotContains(t, outcome.Desired.Command, "--web.route-prefix=/pg")
}

func TestComputeOutboundRecords(t *testing.T) {
	inputs := newInputs()
	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.Len(t, outcome.Outbound, 3)

	assert.Equal(t, apiv1.IntegrationMetricsEndpoint, outcome.Outbound[0].Kind)
	assert.Equal(t, Record{
		"targets":     "*:9091",
		"metricsPath": "/metrics",
	}, outcome.Outbound[0].Data)

	assert.Equal(t, apiv1.IntegrationPushEndpoint, outcome.Outbound[1].Kind)
	assert.Equal(t, "http://pushgateway.default.svc.cluster.local:9091/", outcome.Outbound[1].Data["url"])

	assert.Equal(t, apiv1.IntegrationCatalogue, outcome.Outbound[2].Kind)
	assert.Equal(t, "Prometheus Pushgateway", outcome.Outbound[2].Data["name"])
	assert.Equal(t, "http://pushgateway.default.svc.cluster.local:9091/", outcome.Outbound[2].Data["url"])
}

func TestComputeOutboundRecordsWithTLSAndIngress(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationCertificates] = []Record{{"cert": "CERT", "key": "KEY"}}
	inputs.Integrations[apiv1.IntegrationIngress] = []Record{{"url": "https://example.test/pg"}}

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.Len(t, outcome.Outbound, 3)

	assert.Equal(t, "/pg/metrics", outcome.Outbound[0].Data["metricsPath"])
	assert.Equal(t, "https://pushgateway.default.svc.cluster.local:9091/pg/", outcome.Outbound[1].Data["url"])
	assert.Equal(t, "https://example.test/pg", outcome.Outbound[2].Data["url"])
}

func TestComputeNonLeaderPublishesNothing(t *testing.T) {
	inputs := newInputs()
	inputs.Leader = false

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	assert.Empty(t, outcome.Outbound)
	// The workload itself is still reconciled.
	require.NotNil(t, outcome.Desired)
}

func TestComputeLogProxy(t *testing.T) {
	inputs := newInputs()
	inputs.Integrations[apiv1.IntegrationLogProxy] = []Record{{"endpoint": "http://loki.test/loki/api/v1/push"}}

	outcome, err := Compute(inputs)
	require.NoError(t, err)
	require.NotNil(t, outcome.Desired)

	assert.Equal(t, "http://loki.test/loki/api/v1/push", outcome.Desired.LogProxyURL)
	assert.Contains(t, outcome.Desired.Files[LogForwarderConfigPath], "http://loki.test/loki/api/v1/push")
}

func TestWorkloadConfigEqual(t *testing.T) {
	base := func() *WorkloadConfig {
		return &WorkloadConfig{
			Command: []string{BinaryPath, "--log.level=info"},
			Files:   map[string]string{WebConfigPath: "a"},
		}
	}

	tests := []struct {
		name   string
		a, b   *WorkloadConfig
		expect bool
	}{
		{"both-nil", nil, nil, true},
		{"one-nil", base(), nil, false},
		{"identical", base(), base(), true},
		{
			"different-command",
			base(),
			&WorkloadConfig{Command: []string{BinaryPath, "--log.level=debug"}, Files: map[string]string{WebConfigPath: "a"}},
			false,
		},
		{
			"different-files",
			base(),
			&WorkloadConfig{Command: []string{BinaryPath, "--log.level=info"}, Files: map[string]string{WebConfigPath: "b"}},
			false,
		},
		{
			"different-log-proxy",
			base(),
			&WorkloadConfig{Command: []string{BinaryPath, "--log.level=info"}, Files: map[string]string{WebConfigPath: "a"}, LogProxyURL: "x"},
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.a.Equal(tc.b))
		})
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Option: "logLevel", Value: "verbose", Reason: "must be one of debug, info, warning, error"}
	assert.True(t, strings.Contains(err.Error(), "verbose"))

	err = &ConfigurationError{Option: "ingress", Reason: "integrations disagree"}
	assert.Equal(t, "invalid configuration: ingress: integrations disagree", err.Error())
}
