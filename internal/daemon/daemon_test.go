package daemon

import (
	"os"
	"strconv"
	"testing"
	"time"
)

func TestHealthIntervalFromWatchdog(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "60000000")
	t.Setenv("WATCHDOG_PID", strconv.Itoa(os.Getpid()))

	cfg := DefaultConfig()
	cfg.HealthCheckIntervalSecs = 5 // watchdog wins over the config value
	d := New(&cfg, "")

	interval, ok := d.healthInterval()
	if !ok {
		t.Fatal("expected a health interval")
	}
	if interval != 30*time.Second {
		t.Fatalf("expected half the watchdog timeout, got %s", interval)
	}
}

func TestHealthIntervalFromConfig(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")

	cfg := DefaultConfig()
	cfg.HealthCheckIntervalSecs = 45
	d := New(&cfg, "")

	interval, ok := d.healthInterval()
	if !ok || interval != 45*time.Second {
		t.Fatalf("expected 45s from config, got %s (%v)", interval, ok)
	}
}

func TestHealthIntervalDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")

	cfg := DefaultConfig()
	cfg.HealthCheckIntervalSecs = 0
	d := New(&cfg, "")

	if _, ok := d.healthInterval(); ok {
		t.Fatal("health loop should be disabled when interval is 0 and no watchdog")
	}
}
