// Package mux implements the front-end SSH agent: it terminates agent
// protocol connections on a Unix socket and fans each request out across the
// registry's ordered snapshot of upstream agents.
package mux

import (
	"errors"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

// DialTimeout bounds a single upstream connection attempt. Upstreams are
// local Unix sockets; anything slower than this is effectively dead.
const DialTimeout = 2 * time.Second

// ErrOperationUnsupported is returned for key-owning operations. The mux
// holds no private material, so add/remove/lock/unlock have no meaning here.
var ErrOperationUnsupported = errors.New("agent: operation not supported by multiplexer")

// Agent multiplexes the SSH agent protocol across upstream sockets. It
// implements agent.ExtendedAgent and is handed to agent.ServeAgent for each
// accepted client connection.
type Agent struct {
	reg *registry.Registry
}

var _ sshagent.ExtendedAgent = (*Agent)(nil)

// New creates a multiplexing agent over the registry.
func New(reg *registry.Registry) *Agent {
	return &Agent{reg: reg}
}

// List concatenates the identity lists of every reachable upstream, in the
// registry's ordered-view order at the time of the call. Upstreams that fail
// contribute nothing; an empty result is returned rather than an error.
func (a *Agent) List() ([]*sshagent.Key, error) {
	snapshot := a.reg.OrderedPaths()

	var keys []*sshagent.Key
	for _, path := range snapshot {
		upstream, err := ListUpstreamKeys(path)
		if err != nil {
			logging.Debugf("[mux] skipping upstream %s: %v", path, err)
			continue
		}
		keys = append(keys, upstream...)
	}
	return keys, nil
}

// Sign walks upstreams in snapshot order until one produces a signature for
// the key. Upstreams that fail to connect or refuse the key are skipped.
func (a *Agent) Sign(key ssh.PublicKey, data []byte) (*ssh.Signature, error) {
	return a.signAll(key, data, 0)
}

// SignWithFlags is Sign with SSH_AGENT_RSA_SHA2_* flags passed through.
func (a *Agent) SignWithFlags(key ssh.PublicKey, data []byte, flags sshagent.SignatureFlags) (*ssh.Signature, error) {
	return a.signAll(key, data, flags)
}

func (a *Agent) signAll(key ssh.PublicKey, data []byte, flags sshagent.SignatureFlags) (*ssh.Signature, error) {
	snapshot := a.reg.OrderedPaths()

	for _, path := range snapshot {
		sig, err := signUpstream(path, key, data, flags)
		if err != nil {
			logging.Debugf("[mux] upstream %s did not sign: %v", path, err)
			continue
		}
		return sig, nil
	}
	return nil, errors.New("agent: no upstream agent holds the requested key")
}

// Signers is unsupported; the mux only relays wire-level requests.
func (a *Agent) Signers() ([]ssh.Signer, error) {
	return nil, ErrOperationUnsupported
}

// Add is refused: clients must add keys to a real agent, not the mux.
func (a *Agent) Add(key sshagent.AddedKey) error {
	return ErrOperationUnsupported
}

// Remove is refused; the mux owns no keys.
func (a *Agent) Remove(key ssh.PublicKey) error {
	return ErrOperationUnsupported
}

// RemoveAll is refused; the mux owns no keys.
func (a *Agent) RemoveAll() error {
	return ErrOperationUnsupported
}

// Lock is refused; locking would have to apply to upstreams the mux does
// not own.
func (a *Agent) Lock(passphrase []byte) error {
	return ErrOperationUnsupported
}

// Unlock is refused for the same reason as Lock.
func (a *Agent) Unlock(passphrase []byte) error {
	return ErrOperationUnsupported
}

// Extension is refused; extensions are agent-specific.
func (a *Agent) Extension(extensionType string, contents []byte) ([]byte, error) {
	return nil, sshagent.ErrExtensionUnsupported
}

// ListUpstreamKeys opens a fresh connection to the upstream socket and
// requests its identities.
func ListUpstreamKeys(path string) ([]*sshagent.Key, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return sshagent.NewClient(conn).List()
}

func signUpstream(path string, key ssh.PublicKey, data []byte, flags sshagent.SignatureFlags) (*ssh.Signature, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	client := sshagent.NewClient(conn)
	if flags != 0 {
		return client.SignWithFlags(key, data, flags)
	}
	return client.Sign(key, data)
}
