package mux

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"path/filepath"
	"testing"

	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

// startUpstream serves a keyring-backed agent on a Unix socket and returns
// its path.
func startUpstream(t *testing.T, name string, keys ...sshagent.AddedKey) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	keyring := sshagent.NewKeyring()
	for _, k := range keys {
		if err := keyring.Add(k); err != nil {
			t.Fatalf("add key to upstream keyring: %v", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on %s: %v", path, err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				sshagent.ServeAgent(keyring, conn)
			}()
		}
	}()

	return path
}

func ed25519Key(t *testing.T, comment string) sshagent.AddedKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return sshagent.AddedKey{PrivateKey: priv, Comment: comment}
}

func rsaKey(t *testing.T, comment string) sshagent.AddedKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return sshagent.AddedKey{PrivateKey: priv, Comment: comment}
}

func TestListConcatenatesInOrder(t *testing.T) {
	rsaSock := startUpstream(t, "rsa.sock", rsaKey(t, "rsa-key"))
	edSock := startUpstream(t, "ed.sock", ed25519Key(t, "ed-key"))

	// Configured upstream holds RSA; a forwarded upstream holding ED25519
	// arrives later. The forwarded key must list first.
	reg := registry.New([]string{rsaSock})
	reg.AddWatched(edSock)

	a := New(reg)
	keys, err := a.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].Comment != "ed-key" {
		t.Fatalf("watched upstream should list first, got %s", keys[0].Comment)
	}
	if keys[1].Comment != "rsa-key" {
		t.Fatalf("configured upstream should list second, got %s", keys[1].Comment)
	}
}

func TestListNewestWatchedFirst(t *testing.T) {
	first := startUpstream(t, "first.sock", rsaKey(t, "older"))
	second := startUpstream(t, "second.sock", ed25519Key(t, "newer"))

	reg := registry.New(nil)
	reg.AddWatched(first)
	reg.AddWatched(second)

	keys, err := New(reg).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0].Comment != "newer" || keys[1].Comment != "older" {
		t.Fatalf("unexpected key order: %+v", keys)
	}
}

func TestListSkipsDeadUpstream(t *testing.T) {
	live := startUpstream(t, "live.sock", ed25519Key(t, "live-key"))

	reg := registry.New([]string{"/nonexistent/dead.sock"})
	reg.AddWatched(live)

	keys, err := New(reg).List()
	if err != nil {
		t.Fatalf("List must not fail on a dead upstream: %v", err)
	}
	if len(keys) != 1 || keys[0].Comment != "live-key" {
		t.Fatalf("expected only the live key, got %+v", keys)
	}
}

func TestListAllDead(t *testing.T) {
	reg := registry.New([]string{"/nonexistent/a.sock", "/nonexistent/b.sock"})

	keys, err := New(reg).List()
	if err != nil {
		t.Fatalf("List must return empty, not error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %d", len(keys))
	}
}

func TestSignRoutesToOwningUpstream(t *testing.T) {
	sockA := startUpstream(t, "a.sock", ed25519Key(t, "key-a"))
	sockB := startUpstream(t, "b.sock", ed25519Key(t, "key-b"))

	reg := registry.New([]string{sockA, sockB})
	a := New(reg)

	keys, err := a.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	data := []byte("ssh-agent-mux signing test")
	for _, key := range keys {
		sig, err := a.Sign(key, data)
		if err != nil {
			t.Fatalf("Sign with %s: %v", key.Comment, err)
		}
		if err := key.Verify(data, sig); err != nil {
			t.Fatalf("verify signature from %s: %v", key.Comment, err)
		}
	}
}

func TestSignUnknownKey(t *testing.T) {
	sock := startUpstream(t, "a.sock", ed25519Key(t, "resident"))
	reg := registry.New([]string{sock})

	// A key no upstream holds.
	stray := startUpstream(t, "stray.sock", ed25519Key(t, "stray"))
	strayKeys, err := ListUpstreamKeys(stray)
	if err != nil || len(strayKeys) != 1 {
		t.Fatalf("stray upstream setup: %v", err)
	}

	if _, err := New(reg).Sign(strayKeys[0], []byte("data")); err == nil {
		t.Fatal("signing with an unknown key must fail")
	}
}

func TestKeyOwningOperationsRefused(t *testing.T) {
	a := New(registry.New(nil))

	if err := a.Add(sshagent.AddedKey{}); err != ErrOperationUnsupported {
		t.Fatalf("Add: expected ErrOperationUnsupported, got %v", err)
	}
	if err := a.RemoveAll(); err != ErrOperationUnsupported {
		t.Fatalf("RemoveAll: expected ErrOperationUnsupported, got %v", err)
	}
	if err := a.Lock(nil); err != ErrOperationUnsupported {
		t.Fatalf("Lock: expected ErrOperationUnsupported, got %v", err)
	}
	if err := a.Unlock(nil); err != ErrOperationUnsupported {
		t.Fatalf("Unlock: expected ErrOperationUnsupported, got %v", err)
	}
}

func TestServeOverSocket(t *testing.T) {
	upstream := startUpstream(t, "up.sock", ed25519Key(t, "served"))

	reg := registry.New([]string{upstream})
	listen := filepath.Join(t.TempDir(), "mux.sock")

	srv, err := Listen(listen, reg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	conn, err := net.Dial("unix", listen)
	if err != nil {
		t.Fatalf("dial mux: %v", err)
	}
	defer conn.Close()

	client := sshagent.NewClient(conn)
	keys, err := client.List()
	if err != nil {
		t.Fatalf("client List: %v", err)
	}
	if len(keys) != 1 || keys[0].Comment != "served" {
		t.Fatalf("unexpected keys over the wire: %+v", keys)
	}

	// Key-owning requests fail at the protocol level but keep the
	// connection usable.
	if err := client.RemoveAll(); err == nil {
		t.Fatal("RemoveAll through the mux must fail")
	}
	if _, err := client.List(); err != nil {
		t.Fatalf("connection should survive a refused request: %v", err)
	}
}
