package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrVMNotFound is returned when an operation targets a VMID that has no
// backing VM on the host. All other API failures are reported verbatim so
// callers can tell "absent" apart from "broken".
var ErrVMNotFound = errors.New("vm not found")

// APIError is a non-2xx response from the Proxmox API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client is a pure Go HTTP client for the Proxmox VE API.
// Authentication uses API tokens (no session/CSRF needed).
type Client struct {
	baseURL    string
	tokenID    string
	secret     string
	node       string
	httpClient *http.Client
	logger     *slog.Logger

	pollInterval time.Duration
}

// NewClient creates a new Proxmox API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifySSL,
		},
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Host, "/"),
		tokenID: cfg.TokenID,
		secret:  cfg.Secret,
		node:    cfg.Node,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

// Node returns the configured target node name.
func (c *Client) Node() string {
	return c.node
}

// do executes an HTTP request against the Proxmox API.
func (c *Client) do(ctx context.Context, method, path string, body url.Values) (json.RawMessage, error) {
	apiURL := fmt.Sprintf("%s/api2/json%s", c.baseURL, path)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = strings.NewReader(body.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s=%s", c.tokenID, c.secret))
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors json.RawMessage `json:"errors,omitempty"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return envelope.Data, nil
}

// doVM is do() with missing-VM detection: the Proxmox API reports operations
// on absent VMIDs with a 500 whose body mentions the missing configuration
// file. Those become ErrVMNotFound; everything else passes through.
func (c *Client) doVM(ctx context.Context, method, path string, body url.Values) (json.RawMessage, error) {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isMissingVM(apiErr) {
			return nil, fmt.Errorf("%w: %s", ErrVMNotFound, apiErr.Message)
		}
		return nil, err
	}
	return data, nil
}

func isMissingVM(e *APIError) bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "unable to find configuration file")
}

// CreateVM creates a new VM with the given VMID and creation parameters.
// Returns the UPID of the create task.
func (c *Client) CreateVM(ctx context.Context, vmid int, params url.Values) (string, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("vmid", fmt.Sprintf("%d", vmid))
	path := fmt.Sprintf("/nodes/%s/qemu", c.node)

	data, err := c.do(ctx, http.MethodPost, path, params)
	if err != nil {
		return "", err
	}
	return parseUPID(data)
}

// GetVMConfigRaw returns a VM's configuration as flat key/value text, the
// way `qm config` would print it. This is the single entry point for raw
// configuration data; callers derive structure from it, the client does not.
func (c *Client) GetVMConfigRaw(ctx context.Context, vmid int) (map[string]string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/config", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal VM config: %w", err)
	}

	cfg := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			cfg[k] = val
		case float64:
			if val == float64(int64(val)) {
				cfg[k] = fmt.Sprintf("%d", int64(val))
			} else {
				cfg[k] = fmt.Sprintf("%g", val)
			}
		case bool:
			if val {
				cfg[k] = "1"
			} else {
				cfg[k] = "0"
			}
		default:
			b, _ := json.Marshal(v)
			cfg[k] = string(b)
		}
	}
	return cfg, nil
}

// SetVMConfig updates VM configuration parameters. Setting a key to the
// value it already has is a no-op on the host side.
func (c *Client) SetVMConfig(ctx context.Context, vmid int, params url.Values) error {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/config", c.node, vmid)
	_, err := c.doVM(ctx, http.MethodPut, path, params)
	return err
}

// ResizeDisk grows a VM disk to the given size, e.g. "32G".
func (c *Client) ResizeDisk(ctx context.Context, vmid int, disk, size string) error {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/resize", c.node, vmid)
	params := url.Values{
		"disk": {disk},
		"size": {size},
	}
	_, err := c.doVM(ctx, http.MethodPut, path, params)
	return err
}

// GetVMStatus returns the runtime status of a VM by VMID.
func (c *Client) GetVMStatus(ctx context.Context, vmid int) (*VMStatus, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/current", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var status VMStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal VM status: %w", err)
	}
	return &status, nil
}

// StartVM starts a VM. Returns the UPID of the start task.
func (c *Client) StartVM(ctx context.Context, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/start", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	return parseUPID(data)
}

// StopVM stops a VM (hard stop). Returns the UPID.
func (c *Client) StopVM(ctx context.Context, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/stop", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	return parseUPID(data)
}

// ShutdownVM gracefully shuts down a VM. Returns the UPID.
func (c *Client) ShutdownVM(ctx context.Context, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/shutdown", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	return parseUPID(data)
}

// DeleteVM deletes a VM and all its resources. Returns the UPID.
func (c *Client) DeleteVM(ctx context.Context, vmid int) (string, error) {
	params := url.Values{
		"purge":                      {"1"},
		"destroy-unreferenced-disks": {"1"},
	}
	path := fmt.Sprintf("/nodes/%s/qemu/%d", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodDelete, path+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	return parseUPID(data)
}

// ListClusterResources returns every allocated VM and container identifier,
// cluster-wide on a cluster and host-wide on a standalone node.
func (c *Client) ListClusterResources(ctx context.Context) ([]ClusterResource, error) {
	data, err := c.do(ctx, http.MethodGet, "/cluster/resources?type=vm", nil)
	if err != nil {
		return nil, err
	}

	var resources []ClusterResource
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("unmarshal cluster resources: %w", err)
	}
	return resources, nil
}

// ListStorage returns the node's storage pools, optionally filtered to pools
// advertising a content type such as "images".
func (c *Client) ListStorage(ctx context.Context, content string) ([]StorageEntry, error) {
	path := fmt.Sprintf("/nodes/%s/storage", c.node)
	if content != "" {
		path += "?content=" + url.QueryEscape(content)
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var pools []StorageEntry
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("unmarshal storage list: %w", err)
	}
	return pools, nil
}

// GetNodeStatus returns the resource status of the configured node.
func (c *Client) GetNodeStatus(ctx context.Context) (*NodeStatus, error) {
	path := fmt.Sprintf("/nodes/%s/status", c.node)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var status NodeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal node status: %w", err)
	}
	return &status, nil
}

// GetGuestAgentInterfaces returns network interfaces via the QEMU guest
// agent. Fails until the guest OS and its agent service are up.
func (c *Client) GetGuestAgentInterfaces(ctx context.Context, vmid int) ([]NetworkInterface, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/agent/network-get-interfaces", c.node, vmid)
	data, err := c.doVM(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	// Proxmox wraps the agent result in a "result" field
	var result struct {
		Result []NetworkInterface `json:"result"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		var ifaces []NetworkInterface
		if err2 := json.Unmarshal(data, &ifaces); err2 != nil {
			return nil, fmt.Errorf("unmarshal interfaces: %w", err)
		}
		return ifaces, nil
	}
	return result.Result, nil
}

// GetTaskStatus returns the status of a task by UPID.
func (c *Client) GetTaskStatus(ctx context.Context, upid string) (*TaskStatus, error) {
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", c.node, url.PathEscape(upid))
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal task status: %w", err)
	}
	return &status, nil
}

// WaitForTask polls a task until it completes or the context is cancelled.
// Returns an error if the task fails.
func (c *Client) WaitForTask(ctx context.Context, upid string) error {
	if upid == "" {
		return nil
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := c.GetTaskStatus(ctx, upid)
			if err != nil {
				return fmt.Errorf("check task status: %w", err)
			}
			if status.Status == "stopped" {
				if status.ExitStatus != "OK" {
					return fmt.Errorf("task %s failed with status: %s", upid, status.ExitStatus)
				}
				return nil
			}
		}
	}
}

func parseUPID(data json.RawMessage) (string, error) {
	var upid string
	if err := json.Unmarshal(data, &upid); err != nil {
		// Some synchronous operations return null data
		return "", nil
	}
	return upid, nil
}
