package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// TagLedger maintains the label set on a VM. Tags only ever grow; removal
// happens solely through full destruction of the VM. Writes that fail are
// reported to the caller, who treats them as warnings since tags are
// metadata, not functional state.
type TagLedger struct {
	host   HostAPI
	logger *slog.Logger
}

func NewTagLedger(host HostAPI, logger *slog.Logger) *TagLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagLedger{host: host, logger: logger}
}

// SetAll replaces the VM's tag set. A write only happens when the
// rendered tag string differs from what the host already has.
func (t *TagLedger) SetAll(ctx context.Context, vmid int, tags []string) error {
	rendered := renderTags(tags)

	cfg, err := t.host.GetVMConfigRaw(ctx, vmid)
	if err != nil {
		return fmt.Errorf("read tags on vm %d: %w", vmid, err)
	}
	if cfg["tags"] == rendered {
		return nil
	}

	t.logger.Debug("writing tags", "vmid", vmid, "tags", rendered)
	params := url.Values{"tags": {rendered}}
	if err := t.host.SetVMConfig(ctx, vmid, params); err != nil {
		return fmt.Errorf("write tags on vm %d: %w", vmid, err)
	}
	return nil
}

// Add merges one tag into the VM's existing set. Adding a tag that is
// already present issues no write at all.
func (t *TagLedger) Add(ctx context.Context, vmid int, tag string) error {
	cfg, err := t.host.GetVMConfigRaw(ctx, vmid)
	if err != nil {
		return fmt.Errorf("read tags on vm %d: %w", vmid, err)
	}

	current := parseTags(cfg["tags"])
	for _, existing := range current {
		if existing == tag {
			return nil
		}
	}

	merged := renderTags(append(current, tag))
	t.logger.Debug("adding tag", "vmid", vmid, "tag", tag)
	params := url.Values{"tags": {merged}}
	if err := t.host.SetVMConfig(ctx, vmid, params); err != nil {
		return fmt.Errorf("write tags on vm %d: %w", vmid, err)
	}
	return nil
}

func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func renderTags(tags []string) string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return strings.Join(out, ";")
}
