// Package reconcile derives the desired workload configuration of a single
// Prometheus Pushgateway from its declared integrations and local
// configuration. Compute is a pure function: it performs no I/O and holds no
// state across invocations, so the same inputs always produce identical
// outputs. Applying the result to the cluster is the caller's job.
package reconcile

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	apiv1 "github.com/canonical/prometheus-pushgateway-k8s-operator/api/v1"
)

const (
	// BinaryPath is the pushgateway entrypoint inside the workload image.
	BinaryPath = "/bin/pushgateway"

	// Port is the HTTP listen port of the workload.
	Port = 9091

	// PersistenceFilePath is where pushed metrics are persisted so they
	// survive workload restarts. This is deliberate, non-configurable
	// policy: the flag is rendered for every valid configuration.
	PersistenceFilePath = "/data/metrics"

	// MetricsPath is the self-scrape path advertised to Prometheus.
	MetricsPath = "/metrics"

	WebConfigPath = "/etc/pushgateway/web-config.yml"
	TLSCertPath   = "/etc/pushgateway/tls/tls.crt"
	TLSKeyPath    = "/etc/pushgateway/tls/tls.key"
	TLSCAPath     = "/etc/pushgateway/tls/ca.crt"

	LogForwarderConfigPath = "/etc/log-forwarder/promtail.yml"

	defaultPersistenceInterval = 5 * time.Minute
)

// acceptedLogLevels maps configuration values onto the flag values the
// pushgateway binary understands.
var acceptedLogLevels = map[string]string{
	"debug":   "debug",
	"info":    "info",
	"warning": "warn",
	"error":   "error",
}

// Record is one integration record: the flat key-value mapping exchanged
// over the relation bus.
type Record map[string]string

// Config is the local configuration of the workload, taken from the
// Pushgateway spec plus the identity the controller derives for it.
type Config struct {
	AppName             string
	ServiceFQDN         string
	Image               string
	LogLevel            string
	WebRoutePrefix      string
	TLSRequired         bool
	PersistenceInterval time.Duration
}

// Inputs is everything Compute is allowed to look at.
type Inputs struct {
	// Integrations holds the current inbound records, grouped by kind.
	Integrations map[apiv1.IntegrationKind][]Record

	Config Config

	// Observed is the configuration currently applied to the workload,
	// or nil when it has not been started yet. Used only for the
	// idempotence comparison.
	Observed *WorkloadConfig

	// Leader reports whether this replica holds the single-writer
	// capability. Outbound records are only emitted by the leader; the
	// election itself is the host's business.
	Leader bool

	// ImageAvailable reports whether the workload image can be run.
	ImageAvailable bool
}

// WorkloadConfig is the full set of command-line arguments and file contents
// the managed container should be running with. It has no identity of its
// own and is recomputed on every reconciliation.
type WorkloadConfig struct {
	// Command is the workload argv, starting with the binary path.
	Command []string

	// Files maps absolute paths to generated file contents.
	Files map[string]string

	// LogProxyURL is the log-shipping endpoint the workload's logs should
	// be forwarded to, or empty when no log-proxy record exists.
	LogProxyURL string
}

// Equal reports whether two configurations would result in an identical
// running workload. Both sides may be nil.
func (c *WorkloadConfig) Equal(other *WorkloadConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.Command) != len(other.Command) || len(c.Files) != len(other.Files) || c.LogProxyURL != other.LogProxyURL {
		return false
	}
	for i, arg := range c.Command {
		if other.Command[i] != arg {
			return false
		}
	}
	for p, content := range c.Files {
		if other.Files[p] != content {
			return false
		}
	}
	return true
}

// OutboundRecord is a record this component publishes to a neighbor. Records
// are always written in full, never patched.
type OutboundRecord struct {
	Kind apiv1.IntegrationKind
	Data Record
}

type Status struct {
	State   apiv1.State
	Message string
}

// Outcome is the complete result of one reconciliation pass.
type Outcome struct {
	// Desired is nil while the configuration is blocked or a dependency
	// is pending: a partial configuration is never emitted.
	Desired *WorkloadConfig

	// Outbound is the data to publish on the relation bus, in stable
	// order. Empty when this replica is not the leader.
	Outbound []OutboundRecord

	Status Status

	// NeedsApply is false when the observed workload already matches
	// Desired, in which case the caller must not touch the workload.
	NeedsApply bool

	// Pending is set when a required dependency has not arrived yet.
	Pending *DependencyPending
}

// Compute maps the declared integration state and local configuration onto
// the desired workload configuration, the outbound records, and the coarse
// status signal. A *ConfigurationError is returned when the configuration
// itself is invalid; dependency gaps are not errors and are reported through
// Outcome.Pending instead.
func Compute(inputs Inputs) (Outcome, error) {
	cfg := inputs.Config

	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	flagLevel, ok := acceptedLogLevels[logLevel]
	if !ok {
		err := &ConfigurationError{
			Option: "logLevel",
			Value:  cfg.LogLevel,
			Reason: "must be one of debug, info, warning, error",
		}
		return Outcome{Status: Status{State: apiv1.StateBlocked, Message: err.Error()}}, err
	}

	ingressURL, err := ingressFromRecords(inputs.Integrations[apiv1.IntegrationIngress])
	if err != nil {
		return Outcome{Status: Status{State: apiv1.StateBlocked, Message: err.Error()}}, err
	}

	if !inputs.ImageAvailable {
		pending := &DependencyPending{Dependency: "the workload image"}
		return Outcome{
			Status:  Status{State: apiv1.StateWaiting, Message: pending.String()},
			Pending: pending,
		}, nil
	}

	certs := firstRecord(inputs.Integrations[apiv1.IntegrationCertificates])
	if cfg.TLSRequired && certs == nil {
		pending := &DependencyPending{Dependency: "a certificates integration"}
		return Outcome{
			Status:  Status{State: apiv1.StateWaiting, Message: pending.String()},
			Pending: pending,
		}, nil
	}

	routePrefix := cfg.WebRoutePrefix
	externalURL := ""
	if ingressURL != nil {
		externalURL = ingressURL.String()
		if routePrefix == "" {
			routePrefix = strings.TrimSuffix(ingressURL.Path, "/")
		}
	}

	interval := cfg.PersistenceInterval
	if interval <= 0 {
		interval = defaultPersistenceInterval
	}

	command := []string{
		BinaryPath,
		fmt.Sprintf("--web.listen-address=:%d", Port),
		"--persistence.file=" + PersistenceFilePath,
		"--persistence.interval=" + interval.String(),
		"--log.level=" + flagLevel,
	}
	files := map[string]string{}

	if certs != nil {
		files[TLSCertPath] = certs["cert"]
		files[TLSKeyPath] = certs["key"]
		hasCA := certs["ca"] != ""
		if hasCA {
			files[TLSCAPath] = certs["ca"]
		}
		webConfig, err := renderWebConfig(hasCA)
		if err != nil {
			return Outcome{}, fmt.Errorf("rendering web config: %w", err)
		}
		files[WebConfigPath] = webConfig
		command = append(command, "--web.config.file="+WebConfigPath)
	}
	if routePrefix != "" {
		command = append(command, "--web.route-prefix="+routePrefix)
	}
	if externalURL != "" {
		command = append(command, "--web.external-url="+externalURL)
	}

	logProxyURL := ""
	if logProxy := firstRecord(inputs.Integrations[apiv1.IntegrationLogProxy]); logProxy != nil {
		logProxyURL = logProxy["endpoint"]
	}
	if logProxyURL != "" {
		forwarderConfig, err := renderLogForwarderConfig(cfg.AppName, logProxyURL)
		if err != nil {
			return Outcome{}, fmt.Errorf("rendering log forwarder config: %w", err)
		}
		files[LogForwarderConfigPath] = forwarderConfig
	}

	desired := &WorkloadConfig{
		Command:     command,
		Files:       files,
		LogProxyURL: logProxyURL,
	}

	outcome := Outcome{
		Desired:    desired,
		NeedsApply: !desired.Equal(inputs.Observed),
	}
	if outcome.NeedsApply {
		outcome.Status = Status{State: apiv1.StateMaintenance, Message: "applying workload configuration"}
	} else {
		outcome.Status = Status{State: apiv1.StateActive}
	}

	if inputs.Leader {
		outcome.Outbound = outboundRecords(cfg, certs != nil, routePrefix, externalURL)
	}
	return outcome, nil
}

// outboundRecords builds the full set of records this component publishes.
// Every record is rebuilt from scratch: stale keys never survive.
func outboundRecords(cfg Config, tls bool, routePrefix, externalURL string) []OutboundRecord {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	selfURL := fmt.Sprintf("%s://%s:%d%s", scheme, cfg.ServiceFQDN, Port, ensureTrailingSlash(routePrefix))

	catalogueURL := selfURL
	if externalURL != "" {
		catalogueURL = externalURL
	}

	return []OutboundRecord{
		{
			Kind: apiv1.IntegrationMetricsEndpoint,
			Data: Record{
				"targets":     fmt.Sprintf("*:%d", Port),
				"metricsPath": path.Join("/", routePrefix, MetricsPath),
			},
		},
		{
			Kind: apiv1.IntegrationPushEndpoint,
			Data: Record{"url": selfURL},
		},
		{
			Kind: apiv1.IntegrationCatalogue,
			Data: Record{
				"name":        "Prometheus Pushgateway",
				"url":         catalogueURL,
				"description": "Keeps metrics pushed by ephemeral and batch jobs available for scraping",
				"icon":        "chart-line-variant",
			},
		},
	}
}

// ingressFromRecords resolves the externally visible URL. Multiple ingress
// records that disagree on the URL are an explicit configuration error
// rather than a silently picked winner.
func ingressFromRecords(records []Record) (*url.URL, error) {
	urls := map[string]struct{}{}
	for _, rec := range records {
		if u := rec["url"]; u != "" {
			urls[u] = struct{}{}
		}
	}
	if len(urls) == 0 {
		return nil, nil
	}
	if len(urls) > 1 {
		sorted := make([]string, 0, len(urls))
		for u := range urls {
			sorted = append(sorted, u)
		}
		sort.Strings(sorted)
		return nil, &ConfigurationError{
			Option: "ingress",
			Reason: fmt.Sprintf("ingress integrations disagree on the external URL: %s", strings.Join(sorted, ", ")),
		}
	}
	var raw string
	for u := range urls {
		raw = u
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigurationError{
			Option: "ingress",
			Value:  raw,
			Reason: "not a valid URL",
		}
	}
	return parsed, nil
}

func firstRecord(records []Record) Record {
	if len(records) == 0 {
		return nil
	}
	return records[0]
}

func ensureTrailingSlash(prefix string) string {
	if prefix == "" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
