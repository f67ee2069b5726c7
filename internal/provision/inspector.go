package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bootlab-io/bootlab/internal/proxmox"
)

// Device slots the provisioner owns on every VM it manages.
const (
	firmwareSlot = "efidisk0"
	diskSlot     = "scsi0"
	initSlot     = "ide2"
)

// ResourceState is a live snapshot of one VM's configuration, reduced to
// the facets reconciliation gates on. Built fresh on every inspection,
// never cached.
type ResourceState struct {
	VMID   int
	Exists bool
	Name   string

	HasFirmwareStore bool
	HasPrimaryDisk   bool
	HasInitDrive     bool
	HasBootOrder     bool
	HasGuestAgent    bool

	// PrimaryDiskSpec is the raw scsi0 value, kept for the disk-size
	// advisory check. Empty when no disk is attached.
	PrimaryDiskSpec string

	// CIUser and HasNetConfig carry the identity keys the last
	// reconciliation aspect gates on.
	CIUser       bool
	CIUserValue  string
	HasNetConfig bool

	Tags string
}

// IsComplete reports whether every configuration facet is present.
func (s *ResourceState) IsComplete() bool {
	return s.Exists &&
		s.HasFirmwareStore &&
		s.HasPrimaryDisk &&
		s.HasInitDrive &&
		s.HasBootOrder &&
		s.HasGuestAgent
}

// Inspector reads VM state from the host. It never mutates anything.
type Inspector struct {
	host   HostAPI
	logger *slog.Logger
}

func NewInspector(host HostAPI, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{host: host, logger: logger}
}

// Inspect fetches the VM's configuration and derives the facet snapshot.
// A missing VM yields Exists=false and a nil error; every other host
// failure propagates so callers cannot mistake a broken host for an
// absent VM.
func (i *Inspector) Inspect(ctx context.Context, vmid int) (*ResourceState, error) {
	cfg, err := i.host.GetVMConfigRaw(ctx, vmid)
	if err != nil {
		if errors.Is(err, proxmox.ErrVMNotFound) {
			return &ResourceState{VMID: vmid}, nil
		}
		return nil, fmt.Errorf("inspect vm %d: %w", vmid, err)
	}

	st := &ResourceState{
		VMID:   vmid,
		Exists: true,
		Name:   cfg["name"],
		Tags:   cfg["tags"],
	}

	st.HasFirmwareStore = cfg[firmwareSlot] != ""
	st.PrimaryDiskSpec = cfg[diskSlot]
	st.HasPrimaryDisk = st.PrimaryDiskSpec != ""
	st.HasInitDrive = strings.Contains(cfg[initSlot], "cloudinit")
	st.HasBootOrder = strings.Contains(cfg["boot"], diskSlot)
	st.HasGuestAgent = agentEnabled(cfg["agent"])

	if user, ok := cfg["ciuser"]; ok {
		st.CIUser = true
		st.CIUserValue = user
	}
	st.HasNetConfig = cfg["ipconfig0"] != ""

	i.logger.Debug("inspected vm",
		"vmid", vmid,
		"name", st.Name,
		"complete", st.IsComplete())
	return st, nil
}

// agentEnabled parses the agent property, which may be "1",
// "1,fstrim_cloned_disks=1" or "enabled=1".
func agentEnabled(v string) bool {
	if v == "" {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		if part == "1" || part == "enabled=1" {
			return true
		}
	}
	return false
}

// diskSizeGB extracts the size property from a disk spec such as
// "local-lvm:vm-104-disk-0,iothread=1,size=32G". The second return is
// false when no size is declared or the unit is unrecognized.
func diskSizeGB(spec string) (int, bool) {
	for _, part := range strings.Split(spec, ",") {
		raw, ok := strings.CutPrefix(part, "size=")
		if !ok {
			continue
		}
		unit := byte('G')
		if len(raw) > 0 && raw[len(raw)-1] >= 'A' {
			unit = raw[len(raw)-1]
			raw = raw[:len(raw)-1]
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		switch unit {
		case 'G':
			return n, true
		case 'T':
			return n * 1024, true
		case 'M':
			if n <= 0 {
				return 0, false
			}
			// Round up so a sub-GB disk never reports as 0G.
			return (n + 1023) / 1024, true
		}
		return 0, false
	}
	return 0, false
}
