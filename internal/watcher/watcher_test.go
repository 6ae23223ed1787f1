package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIsSSHForwardedAgentValid(t *testing.T) {
	valid := []string{
		"/tmp/ssh-kDBDw0c18X/agent.34640",
		"/tmp/ssh-Pz1huKcZZO/agent.34737",
		"/tmp/ssh-jSHs8H99CC/agent.34840",
		"/tmp/auth-agent123456/listener.sock",
		"/tmp/auth-agent9876543/listener.sock",
	}
	for _, p := range valid {
		if !IsSSHForwardedAgent(p) {
			t.Errorf("expected %s to match", p)
		}
	}
}

func TestIsSSHForwardedAgentInvalid(t *testing.T) {
	invalid := []string{
		// Wrong root
		"/var/tmp/ssh-abc/agent.123",
		// Wrong directory prefix
		"/tmp/notsh-abc/agent.123",
		// Wrong file name
		"/tmp/ssh-abc/notAgent.123",
		"/tmp/ssh-abc/Agent.123",
		"/tmp/auth-agent1234/agent.1",
		"/tmp/ssh-abc/listener.sock",
		"/tmp/auth-agent/listener2.sock",
		// Missing agent prefix
		"/tmp/ssh-abc/123",
		// Just the directory
		"/tmp/ssh-abc/",
	}
	for _, p := range invalid {
		if IsSSHForwardedAgent(p) {
			t.Errorf("expected %s not to match", p)
		}
	}
}

func TestIsSSHForwardedAgentEdgeCases(t *testing.T) {
	for _, p := range []string{"", "/", "/tmp", "ssh-abc/agent.123"} {
		if IsSSHForwardedAgent(p) {
			t.Errorf("expected %q not to match", p)
		}
	}
}

func TestScanDir(t *testing.T) {
	root := t.TempDir()

	sshDir := filepath.Join(root, "ssh-XXXX1234")
	authDir := filepath.Join(root, "auth-agent42")
	otherDir := filepath.Join(root, "systemd-private")
	for _, d := range []string{sshDir, authDir, otherDir} {
		if err := os.Mkdir(d, 0o700); err != nil {
			t.Fatal(err)
		}
	}

	agentSock := filepath.Join(sshDir, "agent.1234")
	listenerSock := filepath.Join(authDir, "listener.sock")
	decoy := filepath.Join(sshDir, "not-an-agent")
	otherFile := filepath.Join(otherDir, "agent.99")
	for _, f := range []string{agentSock, listenerSock, decoy, otherFile} {
		if err := os.WriteFile(f, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	agents, err := scanDir(root)
	if err != nil {
		t.Fatalf("scanDir: %v", err)
	}

	found := make(map[string]bool)
	for _, a := range agents {
		found[a] = true
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %v", agents)
	}
	if !found[agentSock] || !found[listenerSock] {
		t.Fatalf("missing expected sockets in %v", agents)
	}
}

func TestScanDirEmpty(t *testing.T) {
	agents, err := scanDir(t.TempDir())
	if err != nil {
		t.Fatalf("scanDir: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("expected no agents, got %v", agents)
	}
}

func TestScanDirMissingRoot(t *testing.T) {
	if _, err := scanDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestPollOnceDiff(t *testing.T) {
	root := t.TempDir()
	sshDir := filepath.Join(root, "ssh-poll")
	if err := os.Mkdir(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}

	out := make(chan Event, 16)

	known := pollOnce(root, map[string]bool{}, out)
	if len(known) != 0 || len(out) != 0 {
		t.Fatalf("empty root should produce nothing, got known=%v events=%d", known, len(out))
	}

	sock := filepath.Join(sshDir, "agent.7")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	known = pollOnce(root, known, out)
	ev := <-out
	if ev.Kind != EventAdded || ev.Path != sock {
		t.Fatalf("expected Added %s, got %+v", sock, ev)
	}
	if len(out) != 0 {
		t.Fatal("exactly one event per arrival")
	}

	// Unchanged tick: no events.
	known = pollOnce(root, known, out)
	if len(out) != 0 {
		t.Fatal("no events expected on unchanged tick")
	}

	os.Remove(sock)
	pollOnce(root, known, out)
	ev = <-out
	if ev.Kind != EventRemoved || ev.Path != sock {
		t.Fatalf("expected Removed %s, got %+v", sock, ev)
	}
}

func TestSmartWatcherAddRemove(t *testing.T) {
	root := t.TempDir()
	sshDir := filepath.Join(root, "ssh-smart01")
	if err := os.Mkdir(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}

	out := make(chan Event, 16)
	w, err := StartSmartWatcher(root, out)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer w.Close()

	if len(w.SubscribedDirs()) != 1 {
		t.Fatalf("expected 1 subscribed dir, got %v", w.SubscribedDirs())
	}

	sock := filepath.Join(sshDir, "agent.31337")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, out, 2*time.Second)
	if ev.Kind != EventAdded || ev.Path != sock {
		t.Fatalf("expected Added %s, got %+v", sock, ev)
	}

	os.Remove(sock)
	ev = waitEvent(t, out, 2*time.Second)
	if ev.Kind != EventRemoved || ev.Path != sock {
		t.Fatalf("expected Removed %s, got %+v", sock, ev)
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	out := make(chan Event, 16)
	d := newDebouncer(50*time.Millisecond, out)
	defer d.stop()

	// A socket swap during session setup: create, remove, create again.
	d.enqueue(Event{Kind: EventAdded, Path: "/tmp/ssh-x/agent.1"})
	d.enqueue(Event{Kind: EventRemoved, Path: "/tmp/ssh-x/agent.1"})
	d.enqueue(Event{Kind: EventAdded, Path: "/tmp/ssh-x/agent.1"})

	ev := waitEvent(t, out, time.Second)
	if ev.Kind != EventAdded {
		t.Fatalf("expected the final Added to win, got %+v", ev)
	}
	select {
	case extra := <-out:
		t.Fatalf("expected a single coalesced event, got extra %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func waitEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for watch event")
		return Event{}
	}
}
