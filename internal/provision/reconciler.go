package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// DiskAdvisory reports a size mismatch between an existing disk and the
// desired configuration. An attached disk is never resized automatically;
// the mismatch is surfaced to the operator instead.
type DiskAdvisory struct {
	VMID      int
	CurrentGB int
	DesiredGB int
}

func (a *DiskAdvisory) String() string {
	return fmt.Sprintf("vm %d disk is %dG but %dG was requested; not resizing an existing disk",
		a.VMID, a.CurrentGB, a.DesiredGB)
}

// Reconciler applies one idempotent step per configuration aspect. Every
// step gates its mutations on the facet snapshot, so a step whose effect
// is already present issues no host calls. Steps update the snapshot as
// they go, keeping it accurate for the steps that follow.
type Reconciler struct {
	host   HostAPI
	logger *slog.Logger
}

func NewReconciler(host HostAPI, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{host: host, logger: logger}
}

// EnsureBaseAndFirmware creates the VM shell if absent and attaches the
// EFI variable store. An existing VM only receives the missing firmware
// store; everything else is left alone.
func (r *Reconciler) EnsureBaseAndFirmware(ctx context.Context, d DesiredConfig, st *ResourceState) error {
	if !st.Exists {
		r.logger.Info("creating vm", "vmid", st.VMID, "name", d.Name)
		params := url.Values{
			"name":    {d.Name},
			"cores":   {fmt.Sprintf("%d", d.Cores)},
			"memory":  {fmt.Sprintf("%d", d.MemoryMB)},
			"cpu":     {"host"},
			"numa":    {"0"},
			"sockets": {"1"},
			"net0":    {fmt.Sprintf("virtio,bridge=%s", d.Bridge)},
			"scsihw":  {"virtio-scsi-single"},
			"ostype":  {"l26"},
			"bios":    {"ovmf"},
			"machine": {"q35"},
		}
		upid, err := r.host.CreateVM(ctx, st.VMID, params)
		if err != nil {
			return fmt.Errorf("create vm %d: %w", st.VMID, err)
		}
		if err := r.host.WaitForTask(ctx, upid); err != nil {
			return fmt.Errorf("create vm %d: %w", st.VMID, err)
		}
		st.Exists = true
		st.Name = d.Name
	}

	if !st.HasFirmwareStore {
		r.logger.Info("attaching efi variable store", "vmid", st.VMID)
		params := url.Values{
			firmwareSlot: {fmt.Sprintf("%s:1,efitype=4m,pre-enrolled-keys=1", d.Storage)},
		}
		if err := r.host.SetVMConfig(ctx, st.VMID, params); err != nil {
			return fmt.Errorf("attach firmware store on vm %d: %w", st.VMID, err)
		}
		st.HasFirmwareStore = true
	}
	return nil
}

// EnsureDisk imports the source image and grows it to the desired size,
// as one import-then-resize sequence. When a disk is already attached it
// is never touched: a size mismatch comes back as an advisory only.
func (r *Reconciler) EnsureDisk(ctx context.Context, d DesiredConfig, st *ResourceState) (*DiskAdvisory, error) {
	if st.HasPrimaryDisk {
		current, ok := diskSizeGB(st.PrimaryDiskSpec)
		if ok && current != d.DiskGB {
			adv := &DiskAdvisory{VMID: st.VMID, CurrentGB: current, DesiredGB: d.DiskGB}
			r.logger.Warn("disk size mismatch", "vmid", st.VMID, "current_gb", current, "desired_gb", d.DiskGB)
			return adv, nil
		}
		return nil, nil
	}

	r.logger.Info("importing disk image", "vmid", st.VMID, "image", d.ImagePath, "storage", d.Storage)
	params := url.Values{
		diskSlot: {fmt.Sprintf("%s:0,import-from=%s,iothread=1,ssd=1,discard=on", d.Storage, d.ImagePath)},
	}
	if err := r.host.SetVMConfig(ctx, st.VMID, params); err != nil {
		return nil, fmt.Errorf("import disk on vm %d: %w", st.VMID, err)
	}

	if err := r.host.ResizeDisk(ctx, st.VMID, diskSlot, fmt.Sprintf("%dG", d.DiskGB)); err != nil {
		return nil, fmt.Errorf("resize imported disk on vm %d: %w", st.VMID, err)
	}
	st.HasPrimaryDisk = true
	st.PrimaryDiskSpec = fmt.Sprintf("%s:0,size=%dG", d.Storage, d.DiskGB)
	return nil, nil
}

// EnsureBootAndAgent runs three independent sub-checks: cloud-init drive,
// boot order plus serial console, and guest agent. Each is gated on its
// own facet so a half-configured VM only receives the missing pieces.
func (r *Reconciler) EnsureBootAndAgent(ctx context.Context, d DesiredConfig, st *ResourceState) error {
	if !st.HasInitDrive {
		r.logger.Info("attaching cloud-init drive", "vmid", st.VMID)
		params := url.Values{
			initSlot: {fmt.Sprintf("%s:cloudinit", d.Storage)},
		}
		if err := r.host.SetVMConfig(ctx, st.VMID, params); err != nil {
			return fmt.Errorf("attach cloud-init drive on vm %d: %w", st.VMID, err)
		}
		st.HasInitDrive = true
	}

	if !st.HasBootOrder {
		r.logger.Info("setting boot order", "vmid", st.VMID)
		params := url.Values{
			"boot":    {fmt.Sprintf("order=%s", diskSlot)},
			"serial0": {"socket"},
			"vga":     {"serial0"},
		}
		if err := r.host.SetVMConfig(ctx, st.VMID, params); err != nil {
			return fmt.Errorf("set boot order on vm %d: %w", st.VMID, err)
		}
		st.HasBootOrder = true
	}

	if !st.HasGuestAgent {
		r.logger.Info("enabling guest agent", "vmid", st.VMID)
		params := url.Values{
			"agent": {"1"},
		}
		if err := r.host.SetVMConfig(ctx, st.VMID, params); err != nil {
			return fmt.Errorf("enable guest agent on vm %d: %w", st.VMID, err)
		}
		st.HasGuestAgent = true
	}
	return nil
}

// EnsureIdentityConfig seeds the cloud-init identity: login user, SSH
// key, DHCP networking and package upgrade on first boot. The SSH key
// and upgrade flag are re-applied unconditionally; both are cheap and
// safe to repeat. The user is corrected on drift, DHCP only set when no
// network config exists.
func (r *Reconciler) EnsureIdentityConfig(ctx context.Context, d DesiredConfig, st *ResourceState) error {
	params := url.Values{}

	if !st.CIUser || st.CIUserValue != d.CIUser {
		params.Set("ciuser", d.CIUser)
	}
	if key := strings.TrimSpace(d.SSHPublicKey); key != "" {
		// The API wants this value URL-encoded inside the form body.
		params.Set("sshkeys", url.QueryEscape(key))
	}
	if !st.HasNetConfig {
		params.Set("ipconfig0", "ip=dhcp")
	}
	params.Set("ciupgrade", "1")

	r.logger.Info("applying cloud-init identity", "vmid", st.VMID, "user", d.CIUser)
	if err := r.host.SetVMConfig(ctx, st.VMID, params); err != nil {
		return fmt.Errorf("apply cloud-init identity on vm %d: %w", st.VMID, err)
	}
	st.CIUser = true
	st.CIUserValue = d.CIUser
	st.HasNetConfig = true
	return nil
}
