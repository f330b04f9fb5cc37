package device

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/drivegate-io/drivegate/pkg/log"
)

// HotplugWatcher watches the directory containing the configured device
// node and nudges the link when the node reappears. This covers the gap
// after the background reconnect loop has given up: replugging the board
// recovers the link without waiting for the next client command.
type HotplugWatcher struct {
	link   *Link
	device string
	logger log.Logger
}

// NewHotplugWatcher creates a watcher for the link's device node.
func NewHotplugWatcher(link *Link, device string) *HotplugWatcher {
	return &HotplugWatcher{
		link:   link,
		device: device,
		logger: log.WithName("hotplug"),
	}
}

// Run watches until the context is canceled. A watcher that cannot be
// established is logged and skipped; hotplug detection is opportunistic.
func (h *HotplugWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Warn("Hotplug watch unavailable", "err", err)
		return nil
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(h.device)
	if err := watcher.Add(dir); err != nil {
		h.logger.Warn("Cannot watch device directory", "dir", dir, "err", err)
		return nil
	}

	h.logger.Info("Watching for device hotplug", "dir", dir, "device", h.device)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != h.device || !ev.Has(fsnotify.Create) {
				continue
			}
			if h.link.Connected() {
				continue
			}
			h.logger.Info("Device node appeared, attempting connect", "device", h.device)
			if err := h.link.Connect(); err != nil {
				h.logger.Warn("Hotplug connect attempt failed", "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("Hotplug watch error", "err", err)
		}
	}
}
