package provision

import (
	"context"
	"net/url"

	"github.com/bootlab-io/bootlab/internal/proxmox"
)

// HostAPI is the slice of the Proxmox client this package drives.
// *proxmox.Client satisfies it; tests substitute a recording fake.
type HostAPI interface {
	Node() string
	CreateVM(ctx context.Context, vmid int, params url.Values) (string, error)
	GetVMConfigRaw(ctx context.Context, vmid int) (map[string]string, error)
	SetVMConfig(ctx context.Context, vmid int, params url.Values) error
	ResizeDisk(ctx context.Context, vmid int, disk, size string) error
	GetVMStatus(ctx context.Context, vmid int) (*proxmox.VMStatus, error)
	StartVM(ctx context.Context, vmid int) (string, error)
	StopVM(ctx context.Context, vmid int) (string, error)
	ShutdownVM(ctx context.Context, vmid int) (string, error)
	DeleteVM(ctx context.Context, vmid int) (string, error)
	ListClusterResources(ctx context.Context) ([]proxmox.ClusterResource, error)
	ListStorage(ctx context.Context, content string) ([]proxmox.StorageEntry, error)
	WaitForTask(ctx context.Context, upid string) error
}
