package netwait

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// defaultStrategies builds the discovery chain in preference order:
// guest agent, neighbor table, DHCP lease files. The subnet sweep is not
// a strategy of its own; it only feeds the neighbor table.
func (w *Waiter) defaultStrategies(vmid int, mac string) []Strategy {
	return []Strategy{
		{Name: "guest-agent", Discover: func(ctx context.Context) (string, error) {
			return w.agentAddress(ctx, vmid)
		}},
		{Name: "neighbor-table", Discover: func(ctx context.Context) (string, error) {
			return neighborAddress(ctx, mac)
		}},
		{Name: "dhcp-leases", Discover: func(ctx context.Context) (string, error) {
			return leaseAddress(w.leaseFiles, mac)
		}},
	}
}

// agentAddress asks the in-guest agent for interface addresses and picks
// the first usable IPv4, skipping loopback and link-local entries.
func (w *Waiter) agentAddress(ctx context.Context, vmid int) (string, error) {
	ifaces, err := w.host.GetGuestAgentInterfaces(ctx, vmid)
	if err != nil {
		// The agent is down until the guest finishes booting.
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.IPAddresses {
			if addr.IPAddressType != "ipv4" {
				continue
			}
			ip := net.ParseIP(addr.IPAddress)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			return addr.IPAddress, nil
		}
	}
	return "", nil
}

// neighborAddress looks the MAC up in the host's IPv4 neighbor table.
func neighborAddress(ctx context.Context, mac string) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "-4", "neigh", "show").Output()
	if err != nil {
		return "", fmt.Errorf("ip neigh: %w", err)
	}
	return parseNeighbors(string(out), mac), nil
}

// parseNeighbors scans `ip -4 neigh show` output, lines like
// "192.168.1.50 dev vmbr0 lladdr de:ad:be:ef:00:01 REACHABLE".
func parseNeighbors(out, mac string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) && strings.EqualFold(fields[i+1], mac) {
				if strings.Contains(line, "FAILED") || strings.Contains(line, "INCOMPLETE") {
					break
				}
				return fields[0]
			}
		}
	}
	return ""
}

// leaseAddress scans dnsmasq lease files for the MAC. Lease lines are
// "<expiry> <mac> <ip> <hostname> <client-id>".
func leaseAddress(leaseFiles []string, mac string) (string, error) {
	for _, path := range leaseFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if addr := parseLeases(string(data), mac); addr != "" {
			return addr, nil
		}
	}
	return "", nil
}

func parseLeases(data, mac string) string {
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.EqualFold(fields[1], mac) {
			return fields[2]
		}
	}
	return ""
}

// pingSweep provokes neighbor-table population by touching every address
// in the host's local /24. Pure side channel: results are discarded, the
// neighbor-table strategy re-reads the table afterwards.
func (w *Waiter) pingSweep(ctx context.Context) error {
	subnet, err := localSubnet()
	if err != nil {
		return err
	}
	subnet = clampSubnet(subnet)

	var wg sync.WaitGroup
	sem := make(chan struct{}, 32)
	for ip := subnet.IP.Mask(subnet.Mask).To4(); subnet.Contains(ip); ip = nextIP(ip) {
		if ctx.Err() != nil {
			break
		}
		addr := ip.String()
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			_ = exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1", addr).Run()
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// clampSubnet narrows anything wider than a /24 to the /24 holding the
// interface address, capping the sweep at 256 probes.
func clampSubnet(n *net.IPNet) *net.IPNet {
	if ones, bits := n.Mask.Size(); bits != 32 || ones >= 24 {
		return n
	}
	return &net.IPNet{IP: n.IP.To4(), Mask: net.CIDRMask(24, 32)}
}

// localSubnet returns the first non-loopback IPv4 network on the host.
func localSubnet() (*net.IPNet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil || ipnet.IP.IsLoopback() {
			continue
		}
		return ipnet, nil
	}
	return nil, fmt.Errorf("no local ipv4 network found")
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}
