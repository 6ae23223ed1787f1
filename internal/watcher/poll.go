package watcher

import (
	"context"
	"time"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
)

// DefaultPollInterval is how often the fallback loop rescans the root.
const DefaultPollInterval = 30 * time.Second

// RunPollingLoop rescans root every interval and emits Added/Removed events
// for the difference against the previous scan. It is the fallback when the
// OS watcher cannot be established, and runs until ctx is cancelled.
func RunPollingLoop(ctx context.Context, root string, interval time.Duration, out chan<- Event) {
	logging.Infof("[watcher] polling %s every %s for SSH forwarded agents", root, interval)

	known := make(map[string]bool)
	if agents, err := scanDir(root); err == nil {
		for _, a := range agents {
			known[a] = true
		}
	} else {
		logging.Warnf("[watcher] initial poll scan failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debugf("[watcher] polling loop stopped")
			return
		case <-ticker.C:
			known = pollOnce(root, known, out)
		}
	}
}

// pollOnce diffs a fresh scan against known and emits exactly one event per
// arrival and one per departure. Returns the new remembered set; a failed
// scan keeps the old one so a transient error does not flush every socket.
func pollOnce(root string, known map[string]bool, out chan<- Event) map[string]bool {
	agents, err := scanDir(root)
	if err != nil {
		logging.Warnf("[watcher] poll scan failed: %v", err)
		return known
	}

	current := make(map[string]bool, len(agents))
	for _, a := range agents {
		current[a] = true
		if !known[a] {
			out <- Event{Kind: EventAdded, Path: a}
		}
	}
	for a := range known {
		if !current[a] {
			out <- Event{Kind: EventRemoved, Path: a}
		}
	}
	return current
}
