package provision

import (
	"context"
	"fmt"
)

// VMIDFloor is the lowest identifier Proxmox allows for guests.
const VMIDFloor = 100

// NextVMID allocates a fresh identifier by scanning every allocated VM
// and container across the cluster and taking one past the maximum. The
// result never collides with an existing guest and never dips below the
// platform floor.
func NextVMID(ctx context.Context, host HostAPI, floor int) (int, error) {
	if floor < VMIDFloor {
		floor = VMIDFloor
	}

	resources, err := host.ListClusterResources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list allocated vmids: %w", err)
	}

	next := floor
	for _, res := range resources {
		if res.VMID >= next {
			next = res.VMID + 1
		}
	}
	return next, nil
}
