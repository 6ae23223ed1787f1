package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/kradalby/ssh-agent-mux/internal/control"
)

func TestRunServesAgentAndControl(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ListenPath = filepath.Join(dir, "mux.sock")
	cfg.HealthCheckIntervalSecs = 0
	cfg.WatchForSSHForward = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(&cfg, "").Run(ctx)
	}()

	ctlPath := cfg.ControlPath()
	waitForSocket(t, ctlPath)
	waitForSocket(t, cfg.ListenPath)

	// Control plane answers.
	client, err := control.Connect(ctlPath)
	if err != nil {
		t.Fatalf("connect control: %v", err)
	}
	if err := client.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.WatchEnabled {
		t.Fatal("watch should be disabled")
	}
	if status.WatcherStatus.Status != control.WatcherDisabled {
		t.Fatalf("unexpected watcher status: %+v", status.WatcherStatus)
	}
	client.Close()

	// Agent socket answers: with watching disabled and nothing configured,
	// the identity list is empty.
	conn, err := net.Dial("unix", cfg.ListenPath)
	if err != nil {
		t.Fatalf("dial agent socket: %v", err)
	}
	keys, err := sshagent.NewClient(conn).List()
	if err != nil {
		t.Fatalf("list identities: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no identities, got %d", len(keys))
	}
	conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	// Socket files are cleaned up on exit.
	if _, err := os.Stat(cfg.ListenPath); !os.IsNotExist(err) {
		t.Fatal("agent socket file should be removed on shutdown")
	}
	if _, err := os.Stat(ctlPath); !os.IsNotExist(err) {
		t.Fatal("control socket file should be removed on shutdown")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
