package reconcile

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// webConfig mirrors the subset of the prometheus exporter-toolkit web
// configuration file the workload is started with when certificates are
// present.
type webConfig struct {
	TLSServerConfig tlsServerConfig `yaml:"tls_server_config"`
}

type tlsServerConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file,omitempty"`
}

func renderWebConfig(hasCA bool) (string, error) {
	cfg := webConfig{
		TLSServerConfig: tlsServerConfig{
			CertFile: TLSCertPath,
			KeyFile:  TLSKeyPath,
		},
	}
	if hasCA {
		cfg.TLSServerConfig.ClientCAFile = TLSCAPath
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling web config: %w", err)
	}
	return string(out), nil
}

// promtailConfig is the log forwarder sidecar configuration rendered when a
// log-proxy integration provides a log-shipping endpoint.
type promtailConfig struct {
	Server        promtailServer   `yaml:"server"`
	Positions     promtailPosition `yaml:"positions"`
	Clients       []promtailClient `yaml:"clients"`
	ScrapeConfigs []promtailScrape `yaml:"scrape_configs"`
}

type promtailServer struct {
	Disable bool `yaml:"disable"`
}

type promtailPosition struct {
	Filename string `yaml:"filename"`
}

type promtailClient struct {
	URL string `yaml:"url"`
}

type promtailScrape struct {
	JobName       string            `yaml:"job_name"`
	StaticConfigs []promtailTargets `yaml:"static_configs"`
}

type promtailTargets struct {
	Targets []string          `yaml:"targets"`
	Labels  map[string]string `yaml:"labels"`
}

func renderLogForwarderConfig(app, endpoint string) (string, error) {
	cfg := promtailConfig{
		Server:    promtailServer{Disable: true},
		Positions: promtailPosition{Filename: "/tmp/positions.yaml"},
		Clients:   []promtailClient{{URL: endpoint}},
		ScrapeConfigs: []promtailScrape{{
			JobName: "workload",
			StaticConfigs: []promtailTargets{{
				Targets: []string{"localhost"},
				Labels: map[string]string{
					"app":      app,
					"__path__": "/var/log/pods/*/pushgateway/*.log",
				},
			}},
		}},
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling log forwarder config: %w", err)
	}
	return string(out), nil
}
