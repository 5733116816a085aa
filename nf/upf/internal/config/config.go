package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds the UPF datapath configuration.
type Config struct {
	NF            NFConfig            `yaml:"nf"`
	PFCP          PFCPConfig          `yaml:"pfcp"`
	Datapath      DatapathConfig      `yaml:"datapath"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// NFConfig identifies this UPF instance.
type NFConfig struct {
	Name        string `yaml:"name"`
	InstanceID  string `yaml:"instance_id"`
	Description string `yaml:"description"`
}

// PFCPConfig holds N4 (PFCP) interface configuration.
type PFCPConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	NodeID      string `yaml:"node_id"`
}

// DatapathConfig holds the process-lifetime constants spec.md §6 names:
// interface identities, the masquerade/flow-accounting toggles, and the
// static table size limits (spec.md §5).
type DatapathConfig struct {
	N3Ifindex int `yaml:"n3_ifindex"`
	N6Ifindex int `yaml:"n6_ifindex"`
	N3VLAN    int `yaml:"n3_vlan"`
	N6VLAN    int `yaml:"n6_vlan"`

	Masquerade     bool `yaml:"masquerade"`
	FlowAccounting bool `yaml:"flow_accounting"`

	EgressMTU int `yaml:"egress_mtu"`

	MaxPDR         int `yaml:"max_pdr"`
	MaxFAR         int `yaml:"max_far"`
	MaxURR         int `yaml:"max_urr"`
	MaxNATEntries  int `yaml:"max_nat_entries"`
	MaxFlowEntries int `yaml:"max_flow_entries"`

	Workers int `yaml:"workers"`
}

// ObservabilityConfig holds logging/metrics/tracing configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates the configuration from path, filling in the
// defaults a freshly-loaded UPF needs to come up.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.PFCP.Port == 0 {
		config.PFCP.Port = 8805
	}
	if config.Datapath.EgressMTU == 0 {
		config.Datapath.EgressMTU = 1500
	}
	if config.Datapath.MaxPDR == 0 {
		config.Datapath.MaxPDR = 2000
	}
	if config.Datapath.MaxFAR == 0 {
		config.Datapath.MaxFAR = 4000
	}
	if config.Datapath.MaxURR == 0 {
		config.Datapath.MaxURR = 2000
	}
	if config.Datapath.MaxNATEntries == 0 {
		config.Datapath.MaxNATEntries = 1_000_000
	}
	if config.Datapath.MaxFlowEntries == 0 {
		config.Datapath.MaxFlowEntries = 200_000
	}
	if config.Datapath.Workers == 0 {
		config.Datapath.Workers = 4
	}
	if config.NF.InstanceID == "" {
		config.NF.InstanceID = uuid.NewString()
	}

	return &config, nil
}

// GetPFCPAddress returns the PFCP bind address.
func (c *Config) GetPFCPAddress() string {
	return fmt.Sprintf("%s:%d", c.PFCP.BindAddress, c.PFCP.Port)
}
