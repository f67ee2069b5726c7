package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2, cfg.VM.DefaultCores)
	assert.Equal(t, 8192, cfg.VM.DefaultMemoryMB)
	assert.Equal(t, 32, cfg.VM.DefaultDiskGB)
	assert.Equal(t, "local-lvm", cfg.Proxmox.Storage)
	assert.Equal(t, "vmbr0", cfg.Proxmox.Bridge)
	assert.Equal(t, 100, cfg.Proxmox.VMIDFloor)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.EnableAnonymousUsage)
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yaml := `
proxmox:
  host: "https://pve.lab:8006"
  token_id: "root@pam!bootlab"
  secret: "s3cret"
  node: "pve1"
  storage: "tank"

vm:
  default_cores: 4
  default_memory_mb: 16384
  ip_discovery_timeout: 3m

images:
  rocky10:
    path: /var/lib/vz/images/rocky10.qcow2
    tags: [rocky10, cloudimg]

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(yaml), 0o644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://pve.lab:8006", cfg.Proxmox.Host)
	assert.Equal(t, "tank", cfg.Proxmox.Storage)
	assert.Equal(t, 4, cfg.VM.DefaultCores)
	assert.Equal(t, 16384, cfg.VM.DefaultMemoryMB)
	assert.Equal(t, 3*time.Minute, cfg.VM.IPDiscoveryTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	img, err := cfg.ImageFor("rocky10")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vz/images/rocky10.qcow2", img.Path)
	assert.Equal(t, []string{"rocky10", "cloudimg"}, img.Tags)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Only override some values - defaults should fill the rest
	yaml := `
proxmox:
  host: "https://pve.lab:8006"
logging:
  level: "warn"
`
	err := os.WriteFile(configPath, []byte(yaml), 0o644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "local-lvm", cfg.Proxmox.Storage)
	assert.Equal(t, 100, cfg.Proxmox.VMIDFloor)
	assert.Equal(t, 2, cfg.VM.DefaultCores)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BOOTLAB_PROXMOX_SECRET", "from-env")
	t.Setenv("BOOTLAB_PROXMOX_NODE", "pve2")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yaml := `
proxmox:
  host: "https://pve.lab:8006"
  token_id: "root@pam!bootlab"
  secret: "from-file"
  node: "pve1"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Proxmox.Secret)
	assert.Equal(t, "pve2", cfg.Proxmox.Node)
	assert.Equal(t, "https://pve.lab:8006", cfg.Proxmox.Host)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err) // no host

	cfg.Proxmox.Host = "https://pve.lab:8006"
	cfg.Proxmox.TokenID = "root@pam!bootlab"
	cfg.Proxmox.Secret = "s3cret"
	cfg.Proxmox.Node = "pve1"
	require.NoError(t, cfg.Validate())

	cfg.Proxmox.VMIDFloor = 10
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vmid_floor")
}

func TestGetConfigDir_EnvOverride(t *testing.T) {
	t.Setenv("BOOTLAB_CONFIG_DIR", "/tmp/bootlab-test")
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bootlab-test", dir)
}

func TestOSClasses_Sorted(t *testing.T) {
	cfg := &Config{Images: map[string]Image{
		"ubuntu2404": {Path: "/b"},
		"rocky10":    {Path: "/a"},
		"debian13":   {Path: "/c"},
	}}
	assert.Equal(t, []string{"debian13", "rocky10", "ubuntu2404"}, cfg.OSClasses())
}
