package proxmox

import "fmt"

// Config holds all settings needed to connect to a Proxmox VE host.
type Config struct {
	Host      string // Base URL, e.g., "https://pve.example.com:8006"
	TokenID   string // API token ID, e.g., "root@pam!bootlab"
	Secret    string // API token secret
	Node      string // Target node name, e.g., "pve1"
	VerifySSL bool   // Verify TLS certificates
}

// Validate checks that required config fields are set.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("proxmox host is required")
	}
	if c.TokenID == "" {
		return fmt.Errorf("proxmox token_id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("proxmox secret is required")
	}
	if c.Node == "" {
		return fmt.Errorf("proxmox node is required")
	}
	return nil
}
