package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kradalby/ssh-agent-mux/internal/control"
	"github.com/kradalby/ssh-agent-mux/internal/logging"
	"github.com/kradalby/ssh-agent-mux/internal/mux"
	"github.com/kradalby/ssh-agent-mux/internal/registry"
	"github.com/kradalby/ssh-agent-mux/internal/sdnotify"
	"github.com/kradalby/ssh-agent-mux/internal/watcher"
)

// Daemon is the ssh-agent-mux serve process.
type Daemon struct {
	cfg        *Config
	configPath string
	reg        *registry.Registry
}

// New creates a daemon. configPath is kept for SIGHUP re-reads.
func New(cfg *Config, configPath string) *Daemon {
	return &Daemon{cfg: cfg, configPath: configPath}
}

// Run starts every subsystem and blocks until ctx is cancelled (SIGINT or
// SIGTERM, wired by the serve command) or a listener fails. Socket files are removed on the way
// out.
func (d *Daemon) Run(ctx context.Context) error {
	logging.Infof("[daemon] starting %s version %s; commit %s", AppName, Version, GitCommit)

	d.reg = registry.New(d.cfg.AgentSockPaths)

	events := make(chan watcher.Event, 128)
	watcherStatus := control.WatcherStatus{Status: control.WatcherDisabled}

	group, ctx := errgroup.WithContext(ctx)

	var smartWatcher *watcher.SmartWatcher
	if d.cfg.WatchForSSHForward {
		logging.Infof("[daemon] SSH forwarding watch enabled")

		if agents, err := watcher.ScanExisting(); err != nil {
			logging.Warnf("[daemon] failed to scan for existing agents: %v", err)
		} else {
			for _, agent := range agents {
				d.reg.AddWatched(agent)
			}
		}

		sw, err := watcher.StartSmartWatcher(watcher.TmpRoot, events)
		if err != nil {
			// Non-fatal: poll instead, and tell operators why.
			logging.Warnf("[daemon] file watcher unavailable, using polling fallback: %v", err)
			watcherStatus = control.WatcherStatus{
				Status: control.WatcherPollingFallback,
				Reason: err.Error(),
			}
			group.Go(func() error {
				watcher.RunPollingLoop(ctx, watcher.TmpRoot, watcher.DefaultPollInterval, events)
				return nil
			})
		} else {
			smartWatcher = sw
			watcherStatus = control.WatcherStatus{Status: control.WatcherActive}
		}

		group.Go(func() error {
			d.consumeEvents(ctx, events)
			return nil
		})
	}
	if smartWatcher != nil {
		defer smartWatcher.Close()
	}

	listenPath := d.cfg.ListenPath
	controlPath := d.cfg.ControlPath()

	ctlServer, err := control.Bind(controlPath, &control.ServerState{
		Registry:      d.reg,
		ListenPath:    listenPath,
		ControlPath:   controlPath,
		WatchEnabled:  d.cfg.WatchForSSHForward,
		WatcherStatus: watcherStatus,
		Version:       Version,
		GitCommit:     GitCommit,
		PID:           os.Getpid(),
	})
	if err != nil {
		return err
	}
	defer ctlServer.Close()

	muxServer, err := mux.Listen(listenPath, d.reg)
	if err != nil {
		return err
	}
	defer muxServer.Close()

	group.Go(func() error { return ctlServer.Run(ctx) })
	group.Go(func() error { return muxServer.Run(ctx) })

	if interval, ok := d.healthInterval(); ok {
		logging.Infof("[daemon] health check task started (interval: %s)", interval)
		group.Go(func() error {
			d.healthLoop(ctx, interval)
			return nil
		})
	}

	group.Go(func() error {
		d.watchSIGHUP(ctx)
		return nil
	})

	sdnotify.Ready()
	sdnotify.Status("Running")

	err = group.Wait()

	sdnotify.Stopping()
	logging.Infof("[daemon] shut down")
	return err
}

// consumeEvents is the single drain of the discovery channel; it applies
// events to the registry and logs only actual transitions.
func (d *Daemon) consumeEvents(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case watcher.EventAdded:
				if d.reg.AddWatched(ev.Path) {
					logging.Infof("[daemon] added forwarded agent: %s", ev.Path)
				}
			case watcher.EventRemoved:
				if d.reg.RemoveWatched(ev.Path) {
					logging.Infof("[daemon] removed forwarded agent: %s", ev.Path)
				}
			}
		}
	}
}

// healthInterval picks the validate-loop interval: half the systemd
// watchdog timeout when one is set, else the configured interval, else
// none. Halving keeps a stuck loop from ever outliving the watchdog.
func (d *Daemon) healthInterval() (time.Duration, bool) {
	if watchdog, ok := sdnotify.WatchdogInterval(); ok {
		interval := watchdog / 2
		logging.Infof("[daemon] systemd watchdog enabled, health check interval: %s", interval)
		return interval, true
	}
	if d.cfg.HealthCheckIntervalSecs > 0 {
		return time.Duration(d.cfg.HealthCheckIntervalSecs) * time.Second, true
	}
	return 0, false
}

// healthLoop validates sockets each tick and pings the watchdog afterwards,
// so a wedged health pass shows up as a missed ping.
func (d *Daemon) healthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := d.reg.ValidateAndCleanup()
			if len(removed) > 0 {
				logging.Infof("[daemon] health check removed %d stale socket(s)", len(removed))
			}
			sdnotify.Watchdog()
		}
	}
}

// watchSIGHUP re-reads the config file on SIGHUP and swaps the configured
// socket list. The daemon itself is not restarted; watched sockets are
// untouched.
func (d *Daemon) watchSIGHUP(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logging.Infof("[daemon] reloading configuration")
			cfg, err := LoadConfig(d.configPath)
			if err != nil {
				logging.Errorf("[daemon] config reload failed: %v", err)
				continue
			}
			if err := cfg.Normalize(); err != nil {
				logging.Errorf("[daemon] config reload failed: %v", err)
				continue
			}
			d.reg.UpdateConfigured(cfg.AgentSockPaths)
			sdnotify.Status(fmt.Sprintf("Running (%d configured sockets)", len(cfg.AgentSockPaths)))
		}
	}
}
