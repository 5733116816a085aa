package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFillsInDefaults(t *testing.T) {
	path := writeTempConfig(t, `
nf:
  name: upf-1
pfcp:
  bind_address: 0.0.0.0
datapath:
  n3_ifindex: 2
  n6_ifindex: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8805, cfg.PFCP.Port)
	require.Equal(t, 1500, cfg.Datapath.EgressMTU)
	require.Equal(t, 2000, cfg.Datapath.MaxPDR)
	require.Equal(t, 4000, cfg.Datapath.MaxFAR)
	require.Equal(t, 2000, cfg.Datapath.MaxURR)
	require.Equal(t, 1_000_000, cfg.Datapath.MaxNATEntries)
	require.Equal(t, 200_000, cfg.Datapath.MaxFlowEntries)
	require.Equal(t, 4, cfg.Datapath.Workers)
	require.NotEmpty(t, cfg.NF.InstanceID)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
nf:
  name: upf-1
  instance_id: fixed-id
pfcp:
  bind_address: 0.0.0.0
  port: 9805
datapath:
  n3_ifindex: 2
  n6_ifindex: 3
  workers: 8
  egress_mtu: 1400
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "fixed-id", cfg.NF.InstanceID)
	require.Equal(t, 9805, cfg.PFCP.Port)
	require.Equal(t, 8, cfg.Datapath.Workers)
	require.Equal(t, 1400, cfg.Datapath.EgressMTU)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAMLReturnsError(t *testing.T) {
	path := writeTempConfig(t, "datapath: [this is not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestGetPFCPAddress(t *testing.T) {
	cfg := &Config{PFCP: PFCPConfig{BindAddress: "10.0.0.1", Port: 8805}}
	require.Equal(t, "10.0.0.1:8805", cfg.GetPFCPAddress())
}
