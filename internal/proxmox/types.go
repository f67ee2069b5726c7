package proxmox

// VMStatus represents the status of a QEMU VM from the Proxmox API.
type VMStatus struct {
	VMID      int     `json:"vmid"`
	Name      string  `json:"name"`
	Status    string  `json:"status"` // "running", "stopped", "paused"
	QMPStatus string  `json:"qmpstatus,omitempty"`
	CPU       float64 `json:"cpu"`
	Mem       int64   `json:"mem"`
	MaxMem    int64   `json:"maxmem"`
	MaxDisk   int64   `json:"maxdisk"`
	Uptime    int64   `json:"uptime"`
	PID       int     `json:"pid,omitempty"`
	Lock      string  `json:"lock,omitempty"`
}

// ClusterResource is one entry from GET /cluster/resources. With type=vm it
// covers both the qemu and lxc identifier namespaces, cluster-wide.
type ClusterResource struct {
	ID     string `json:"id"` // e.g., "qemu/104" or "lxc/201"
	VMID   int    `json:"vmid"`
	Type   string `json:"type"` // "qemu" or "lxc"
	Node   string `json:"node"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// StorageEntry is one storage pool from GET /nodes/{node}/storage.
type StorageEntry struct {
	Storage string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"` // comma-separated content types
	Active  int    `json:"active,omitempty"`
	Total   int64  `json:"total,omitempty"`
	Avail   int64  `json:"avail,omitempty"`
}

// NodeStatus represents a Proxmox node's resource status.
type NodeStatus struct {
	CPU      float64      `json:"cpu"`
	MaxCPU   int          `json:"maxcpu"`
	Memory   MemoryStatus `json:"memory"`
	RootFS   DiskStatus   `json:"rootfs"`
	Uptime   int64        `json:"uptime"`
	KVersion string       `json:"kversion"`
}

// MemoryStatus is memory info from node status.
type MemoryStatus struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}

// DiskStatus is disk info from node status.
type DiskStatus struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Available int64 `json:"avail"`
}

// NetworkInterface represents a network interface from the QEMU guest agent.
type NetworkInterface struct {
	Name            string           `json:"name"`
	HardwareAddress string           `json:"hardware-address"`
	IPAddresses     []GuestIPAddress `json:"ip-addresses"`
}

// GuestIPAddress is an IP address from the QEMU guest agent.
type GuestIPAddress struct {
	IPAddressType string `json:"ip-address-type"` // "ipv4" or "ipv6"
	IPAddress     string `json:"ip-address"`
	Prefix        int    `json:"prefix"`
}

// TaskStatus represents the status of an asynchronous Proxmox task.
type TaskStatus struct {
	Status     string `json:"status"`               // "running", "stopped"
	ExitStatus string `json:"exitstatus,omitempty"` // "OK" on success
	Type       string `json:"type"`
	ID         string `json:"id"`
	Node       string `json:"node"`
	PID        int    `json:"pid"`
	StartTime  int64  `json:"starttime"`
	EndTime    int64  `json:"endtime,omitempty"`
}
