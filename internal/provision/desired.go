package provision

import "fmt"

// DesiredConfig is the immutable input to a provisioning run. It is built
// once from flags and configuration and never mutated afterwards; every
// step reads the same value.
type DesiredConfig struct {
	// VMID of 0 means auto-allocate a fresh identifier.
	VMID     int
	Name     string
	Cores    int
	MemoryMB int
	DiskGB   int

	// Storage is the pool the disk and firmware store land on.
	Storage string
	Bridge  string

	// OSClass selects the source image, e.g. "rocky10".
	OSClass   string
	ImagePath string

	// CIUser and SSHPublicKey seed the guest's login identity.
	CIUser       string
	SSHPublicKey string

	Tags []string

	// ForceRecreate destroys a fully configured VM before rebuilding it.
	// A partially configured VM is resumed instead, never destroyed.
	ForceRecreate bool
}

// Validate checks the fields every reconciliation step depends on.
func (d DesiredConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("vm name is required")
	}
	if d.Cores < 1 {
		return fmt.Errorf("cores must be at least 1, got %d", d.Cores)
	}
	if d.MemoryMB < 512 {
		return fmt.Errorf("memory must be at least 512 MB, got %d", d.MemoryMB)
	}
	if d.DiskGB < 1 {
		return fmt.Errorf("disk size must be at least 1 GB, got %d", d.DiskGB)
	}
	if d.Storage == "" {
		return fmt.Errorf("storage pool is required")
	}
	if d.ImagePath == "" {
		return fmt.Errorf("no source image configured for OS class %q", d.OSClass)
	}
	return nil
}
