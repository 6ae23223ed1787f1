package control

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

func TestConnectErrorTyped(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "absent.ctl"))
	if err == nil {
		t.Fatal("connect to a missing socket must fail")
	}

	var cerr *ClientError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ClientError, got %T: %v", err, err)
	}
	if cerr.Kind != ErrConnect {
		t.Fatalf("expected ErrConnect, got kind %d", cerr.Kind)
	}
	if !strings.Contains(cerr.Error(), "failed to connect to control socket") {
		t.Fatalf("unexpected message: %s", cerr.Error())
	}
	if cerr.Unwrap() == nil {
		t.Fatal("ClientError should wrap the underlying dial error")
	}
}

func TestDaemonErrorTyped(t *testing.T) {
	_, ctlPath := startServer(t, testState(registry.New(nil)))

	client, err := Connect(ctlPath)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	// Removing an unknown socket yields an Error response, surfaced as a
	// daemon-kind client error.
	_, err = client.RemoveSocket("/tmp/unknown.sock")
	if err == nil {
		t.Fatal("expected a daemon error")
	}
	var cerr *ClientError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ClientError, got %T: %v", err, err)
	}
	if cerr.Kind != ErrDaemon {
		t.Fatalf("expected ErrDaemon, got kind %d", cerr.Kind)
	}
	if !strings.Contains(cerr.Error(), "daemon error") || !strings.Contains(cerr.Error(), "not found") {
		t.Fatalf("unexpected message: %s", cerr.Error())
	}
}

func TestClientErrorDisplay(t *testing.T) {
	err := &ClientError{Kind: ErrDaemon, Err: errors.New("test error")}
	if err.Error() != "daemon error: test error" {
		t.Fatalf("unexpected display: %s", err.Error())
	}

	err = &ClientError{Kind: ErrTimeout, Err: errors.New("i/o timeout")}
	if err.Error() != "connection timed out" {
		t.Fatalf("unexpected display: %s", err.Error())
	}
}
