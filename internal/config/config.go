package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for bootlab.
type Config struct {
	Proxmox   ProxmoxConfig    `yaml:"proxmox"`
	VM        VMConfig         `yaml:"vm"`
	Images    map[string]Image `yaml:"images"` // guest OS class -> cloud image
	SSH       SSHConfig        `yaml:"ssh"`
	Ansible   AnsibleConfig    `yaml:"ansible"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	DataDir   string           `yaml:"data_dir"` // state file, lock file, run ledger
}

// ProxmoxConfig holds Proxmox VE API settings.
type ProxmoxConfig struct {
	Host      string `yaml:"host"`       // e.g., "https://pve.example.com:8006"
	TokenID   string `yaml:"token_id"`   // e.g., "root@pam!bootlab"
	Secret    string `yaml:"secret"`     // API token secret
	Node      string `yaml:"node"`       // Target node name, e.g., "pve1"
	VerifySSL bool   `yaml:"verify_ssl"` // Verify TLS certificates
	Storage   string `yaml:"storage"`    // Default storage for VM disks, e.g., "local-lvm"
	Bridge    string `yaml:"bridge"`     // Network bridge, e.g., "vmbr0"
	VMIDFloor int    `yaml:"vmid_floor"` // Lowest VMID auto-allocation may return
}

// Image describes a cloud image available on the Proxmox host for one guest
// OS class, plus the tags recorded on VMs built from it.
type Image struct {
	Path string   `yaml:"path"` // path on the Proxmox host, e.g., "/var/lib/vz/images/rocky10.qcow2"
	Tags []string `yaml:"tags"`
}

// VMConfig holds defaults for the provisioned VM.
type VMConfig struct {
	DefaultCores       int           `yaml:"default_cores"`
	DefaultMemoryMB    int           `yaml:"default_memory_mb"`
	DefaultDiskGB      int           `yaml:"default_disk_gb"`
	IPDiscoveryTimeout time.Duration `yaml:"ip_discovery_timeout"`
	SSHTimeout         time.Duration `yaml:"ssh_timeout"`
	CloudInitTimeout   time.Duration `yaml:"cloud_init_timeout"`
}

// SSHConfig holds the guest login identity injected via cloud-init.
type SSHConfig struct {
	User           string `yaml:"user"`             // cloud-init login user
	PublicKeyPath  string `yaml:"public_key_path"`  // injected into the guest
	PrivateKeyPath string `yaml:"private_key_path"` // used for readiness probes and hand-off
}

// AnsibleConfig holds playbook hand-off settings.
type AnsibleConfig struct {
	Playbook      string `yaml:"playbook"`       // playbook invoked after the VM is ready
	InventoryPath string `yaml:"inventory_path"` // rendered one-host inventory
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	EnableAnonymousUsage bool `yaml:"enable_anonymous_usage"`
}

// UnmarshalYAML accepts Go duration strings ("3m") and bare second
// counts for the timeout fields.
func (v *VMConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		DefaultCores       int    `yaml:"default_cores"`
		DefaultMemoryMB    int    `yaml:"default_memory_mb"`
		DefaultDiskGB      int    `yaml:"default_disk_gb"`
		IPDiscoveryTimeout string `yaml:"ip_discovery_timeout"`
		SSHTimeout         string `yaml:"ssh_timeout"`
		CloudInitTimeout   string `yaml:"cloud_init_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v.DefaultCores = raw.DefaultCores
	v.DefaultMemoryMB = raw.DefaultMemoryMB
	v.DefaultDiskGB = raw.DefaultDiskGB
	v.IPDiscoveryTimeout = parseDuration(raw.IPDiscoveryTimeout)
	v.SSHTimeout = parseDuration(raw.SSHTimeout)
	v.CloudInitTimeout = parseDuration(raw.CloudInitTimeout)
	return nil
}

func parseDuration(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	// Fall back to seconds
	var sec int
	if _, err := fmt.Sscanf(s, "%d", &sec); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return 0
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".bootlab")

	return &Config{
		Proxmox: ProxmoxConfig{
			VerifySSL: true,
			Storage:   "local-lvm",
			Bridge:    "vmbr0",
			VMIDFloor: 100,
		},
		VM: VMConfig{
			DefaultCores:       2,
			DefaultMemoryMB:    8192,
			DefaultDiskGB:      32,
			IPDiscoveryTimeout: 5 * time.Minute,
			SSHTimeout:         5 * time.Minute,
			CloudInitTimeout:   10 * time.Minute,
		},
		SSH: SSHConfig{
			User:           "lab",
			PublicKeyPath:  filepath.Join(home, ".ssh", "id_ed25519.pub"),
			PrivateKeyPath: filepath.Join(home, ".ssh", "id_ed25519"),
		},
		Ansible: AnsibleConfig{
			Playbook:      filepath.Join(dataDir, "ansible", "site.yml"),
			InventoryPath: filepath.Join(dataDir, "ansible", "inventory"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			EnableAnonymousUsage: false,
		},
		DataDir: dataDir,
	}
}

// Load reads config from a YAML file. If the file doesn't exist, returns
// default config. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills in default values for any empty config fields.
// This handles cases where a config file exists but doesn't specify all fields.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Proxmox.Storage == "" {
		cfg.Proxmox.Storage = defaults.Proxmox.Storage
	}
	if cfg.Proxmox.Bridge == "" {
		cfg.Proxmox.Bridge = defaults.Proxmox.Bridge
	}
	if cfg.Proxmox.VMIDFloor == 0 {
		cfg.Proxmox.VMIDFloor = defaults.Proxmox.VMIDFloor
	}
	if cfg.VM.DefaultCores == 0 {
		cfg.VM.DefaultCores = defaults.VM.DefaultCores
	}
	if cfg.VM.DefaultMemoryMB == 0 {
		cfg.VM.DefaultMemoryMB = defaults.VM.DefaultMemoryMB
	}
	if cfg.VM.DefaultDiskGB == 0 {
		cfg.VM.DefaultDiskGB = defaults.VM.DefaultDiskGB
	}
	if cfg.VM.IPDiscoveryTimeout == 0 {
		cfg.VM.IPDiscoveryTimeout = defaults.VM.IPDiscoveryTimeout
	}
	if cfg.VM.SSHTimeout == 0 {
		cfg.VM.SSHTimeout = defaults.VM.SSHTimeout
	}
	if cfg.VM.CloudInitTimeout == 0 {
		cfg.VM.CloudInitTimeout = defaults.VM.CloudInitTimeout
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = defaults.SSH.User
	}
	if cfg.SSH.PublicKeyPath == "" {
		cfg.SSH.PublicKeyPath = defaults.SSH.PublicKeyPath
	}
	if cfg.SSH.PrivateKeyPath == "" {
		cfg.SSH.PrivateKeyPath = defaults.SSH.PrivateKeyPath
	}
	if cfg.Ansible.Playbook == "" {
		cfg.Ansible.Playbook = defaults.Ansible.Playbook
	}
	if cfg.Ansible.InventoryPath == "" {
		cfg.Ansible.InventoryPath = defaults.Ansible.InventoryPath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
}

// applyEnvOverrides lets Proxmox connection settings come from the
// environment so the token secret never has to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOOTLAB_PROXMOX_HOST"); v != "" {
		cfg.Proxmox.Host = v
	}
	if v := os.Getenv("BOOTLAB_PROXMOX_TOKEN_ID"); v != "" {
		cfg.Proxmox.TokenID = v
	}
	if v := os.Getenv("BOOTLAB_PROXMOX_SECRET"); v != "" {
		cfg.Proxmox.Secret = v
	}
	if v := os.Getenv("BOOTLAB_PROXMOX_NODE"); v != "" {
		cfg.Proxmox.Node = v
	}
}

// Validate checks that the fields required to reach the host are set.
func (c *Config) Validate() error {
	if c.Proxmox.Host == "" {
		return fmt.Errorf("proxmox host is required (config or BOOTLAB_PROXMOX_HOST)")
	}
	if c.Proxmox.TokenID == "" {
		return fmt.Errorf("proxmox token_id is required")
	}
	if c.Proxmox.Secret == "" {
		return fmt.Errorf("proxmox secret is required")
	}
	if c.Proxmox.Node == "" {
		return fmt.Errorf("proxmox node is required")
	}
	if c.Proxmox.VMIDFloor < 100 {
		return fmt.Errorf("vmid_floor must be at least 100 (Proxmox reserves lower IDs), got %d", c.Proxmox.VMIDFloor)
	}
	return nil
}

// ImageFor returns the cloud image for a guest OS class.
func (c *Config) ImageFor(osClass string) (Image, error) {
	img, ok := c.Images[osClass]
	if !ok {
		return Image{}, fmt.Errorf("no image configured for OS class %q", osClass)
	}
	if img.Path == "" {
		return Image{}, fmt.Errorf("image for OS class %q has no path", osClass)
	}
	return img, nil
}

// OSClasses returns the configured guest OS classes in sorted order.
func (c *Config) OSClasses() []string {
	classes := make([]string, 0, len(c.Images))
	for name := range c.Images {
		classes = append(classes, name)
	}
	sort.Strings(classes)
	return classes
}
