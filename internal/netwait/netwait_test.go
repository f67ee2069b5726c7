package netwait

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bootlab-io/bootlab/internal/proxmox"
)

type fakeAgent struct {
	config map[string]string
	ifaces []proxmox.NetworkInterface
	err    error
}

func (f *fakeAgent) GetVMConfigRaw(context.Context, int) (map[string]string, error) {
	return f.config, nil
}

func (f *fakeAgent) GetGuestAgentInterfaces(context.Context, int) ([]proxmox.NetworkInterface, error) {
	return f.ifaces, f.err
}

// fakeRunner fails a fixed number of times before succeeding.
type fakeRunner struct {
	failures int
	calls    int
	block    bool
}

func (f *fakeRunner) Run(ctx context.Context, addr, command string, args ...string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.calls <= f.failures {
		return "", fmt.Errorf("connection refused")
	}
	return "", nil
}

func testAgent() *fakeAgent {
	return &fakeAgent{
		config: map[string]string{"net0": "virtio=DE:AD:BE:EF:00:01,bridge=vmbr0"},
	}
}

func fastOptions() Options {
	return Options{
		NetworkTimeout: 500 * time.Millisecond,
		ShellTimeout:   500 * time.Millisecond,
		InitTimeout:    100 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
}

func TestAwaitNetwork_FallbackChain(t *testing.T) {
	w := NewWaiter(testAgent(), &fakeRunner{}, fastOptions(), nil)

	swept := false
	w.sweep = func(context.Context) error { swept = true; return nil }
	w.newStrategies = func(vmid int, mac string) []Strategy {
		require.Equal(t, "de:ad:be:ef:00:01", mac)
		return []Strategy{
			{Name: "guest-agent", Discover: func(context.Context) (string, error) { return "", nil }},
			{Name: "neighbor-table", Discover: func(context.Context) (string, error) { return "", nil }},
			{Name: "dhcp-leases", Discover: func(context.Context) (string, error) { return "192.168.1.73", nil }},
		}
	}

	addr, err := w.AwaitNetwork(context.Background(), 104)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.73", addr)
	assert.False(t, swept, "a lease hit must not trigger the active sweep")
}

func TestAwaitNetwork_FirstSuccessWins(t *testing.T) {
	w := NewWaiter(testAgent(), &fakeRunner{}, fastOptions(), nil)

	laterCalled := false
	w.newStrategies = func(int, string) []Strategy {
		return []Strategy{
			{Name: "guest-agent", Discover: func(context.Context) (string, error) { return "10.0.0.7", nil }},
			{Name: "dhcp-leases", Discover: func(context.Context) (string, error) { laterCalled = true; return "10.0.0.8", nil }},
		}
	}

	addr, err := w.AwaitNetwork(context.Background(), 104)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", addr)
	assert.False(t, laterCalled)
}

func TestAwaitNetwork_SweepFiresOncePastHalfWindow(t *testing.T) {
	w := NewWaiter(testAgent(), &fakeRunner{}, fastOptions(), nil)

	sweeps := 0
	found := ""
	w.sweep = func(context.Context) error {
		sweeps++
		found = "192.168.1.99"
		return nil
	}
	w.newStrategies = func(int, string) []Strategy {
		return []Strategy{
			{Name: "neighbor-table", Discover: func(context.Context) (string, error) { return found, nil }},
		}
	}

	addr, err := w.AwaitNetwork(context.Background(), 104)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.99", addr)
	assert.Equal(t, 1, sweeps)
}

func TestAwaitNetwork_SlowSweepCannotOverrunWindow(t *testing.T) {
	opts := fastOptions()
	w := NewWaiter(testAgent(), &fakeRunner{}, opts, nil)

	// A sweep over a wide subnet can take far longer than the discovery
	// window; it must be cut off at the deadline, not run to completion.
	var sweepDeadline time.Time
	w.sweep = func(ctx context.Context) error {
		d, ok := ctx.Deadline()
		require.True(t, ok, "sweep must run under the discovery deadline")
		sweepDeadline = d
		<-ctx.Done()
		return ctx.Err()
	}
	w.newStrategies = func(int, string) []Strategy {
		return []Strategy{
			{Name: "neighbor-table", Discover: func(context.Context) (string, error) { return "", nil }},
		}
	}

	start := time.Now()
	_, err := w.AwaitNetwork(context.Background(), 104)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, elapsed, 2*opts.NetworkTimeout, "wait overran its window")
	assert.WithinDuration(t, start.Add(opts.NetworkTimeout), sweepDeadline, opts.NetworkTimeout)
}

func TestClampSubnet(t *testing.T) {
	_, wide, err := net.ParseCIDR("10.1.2.3/16")
	require.NoError(t, err)
	wide.IP = net.ParseIP("10.1.2.3")

	clamped := clampSubnet(wide)
	ones, bits := clamped.Mask.Size()
	assert.Equal(t, 24, ones)
	assert.Equal(t, 32, bits)
	assert.Equal(t, "10.1.2.0", clamped.IP.Mask(clamped.Mask).String())

	_, narrow, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)
	assert.Same(t, narrow, clampSubnet(narrow))
}

func TestAwaitNetwork_Timeout(t *testing.T) {
	w := NewWaiter(testAgent(), &fakeRunner{}, fastOptions(), nil)
	w.sweep = func(context.Context) error { return nil }
	w.newStrategies = func(int, string) []Strategy {
		return []Strategy{
			{Name: "guest-agent", Discover: func(context.Context) (string, error) { return "", nil }},
		}
	}

	_, err := w.AwaitNetwork(context.Background(), 104)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestAwaitNetwork_MissingNIC(t *testing.T) {
	agent := &fakeAgent{config: map[string]string{}}
	w := NewWaiter(agent, &fakeRunner{}, fastOptions(), nil)

	_, err := w.AwaitNetwork(context.Background(), 104)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
}

func TestAgentAddress_Filtering(t *testing.T) {
	agent := testAgent()
	agent.ifaces = []proxmox.NetworkInterface{
		{Name: "lo", IPAddresses: []proxmox.GuestIPAddress{
			{IPAddressType: "ipv4", IPAddress: "127.0.0.1"},
		}},
		{Name: "eth0", IPAddresses: []proxmox.GuestIPAddress{
			{IPAddressType: "ipv6", IPAddress: "fe80::1"},
			{IPAddressType: "ipv4", IPAddress: "169.254.10.10"},
			{IPAddressType: "ipv4", IPAddress: "192.168.1.50"},
		}},
	}
	w := NewWaiter(agent, &fakeRunner{}, fastOptions(), nil)

	addr, err := w.agentAddress(context.Background(), 104)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", addr)
}

func TestAwaitShell_RetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{failures: 2}
	w := NewWaiter(testAgent(), runner, fastOptions(), nil)

	err := w.AwaitShell(context.Background(), "192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, 3, runner.calls)
}

func TestAwaitShell_Timeout(t *testing.T) {
	runner := &fakeRunner{failures: 1 << 30}
	w := NewWaiter(testAgent(), runner, fastOptions(), nil)

	err := w.AwaitShell(context.Background(), "192.168.1.50")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestAwaitInit_TimeoutIsTyped(t *testing.T) {
	runner := &fakeRunner{block: true}
	w := NewWaiter(testAgent(), runner, fastOptions(), nil)

	err := w.AwaitInit(context.Background(), "192.168.1.50")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestAwaitInit_Success(t *testing.T) {
	w := NewWaiter(testAgent(), &fakeRunner{}, fastOptions(), nil)
	assert.NoError(t, w.AwaitInit(context.Background(), "192.168.1.50"))
}

func TestParseNeighbors(t *testing.T) {
	out := `192.168.1.1 dev vmbr0 lladdr aa:aa:aa:aa:aa:aa REACHABLE
192.168.1.50 dev vmbr0 lladdr de:ad:be:ef:00:01 STALE
192.168.1.66 dev vmbr0 lladdr bb:bb:bb:bb:bb:bb FAILED`

	assert.Equal(t, "192.168.1.50", parseNeighbors(out, "de:ad:be:ef:00:01"))
	assert.Equal(t, "192.168.1.50", parseNeighbors(out, "DE:AD:BE:EF:00:01"))
	assert.Equal(t, "", parseNeighbors(out, "bb:bb:bb:bb:bb:bb"), "FAILED entries are not addresses")
	assert.Equal(t, "", parseNeighbors(out, "cc:cc:cc:cc:cc:cc"))
}

func TestLeaseAddress(t *testing.T) {
	dir := t.TempDir()
	lease := filepath.Join(dir, "dnsmasq.leases")
	content := "1756600000 aa:aa:aa:aa:aa:aa 192.168.1.20 web01 *\n" +
		"1756600000 de:ad:be:ef:00:01 192.168.1.73 lab *\n"
	require.NoError(t, os.WriteFile(lease, []byte(content), 0o644))

	addr, err := leaseAddress([]string{filepath.Join(dir, "missing"), lease}, "DE:AD:BE:EF:00:01")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.73", addr)

	addr, err = leaseAddress([]string{lease}, "ff:ff:ff:ff:ff:ff")
	require.NoError(t, err)
	assert.Equal(t, "", addr)
}

func TestMACAddress(t *testing.T) {
	w := NewWaiter(testAgent(), &fakeRunner{}, fastOptions(), nil)

	mac, err := w.macAddress(context.Background(), 104)
	require.NoError(t, err)
	assert.Equal(t, "de:ad:be:ef:00:01", mac)
}
