package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

// Server owns the agent-side listening socket.
type Server struct {
	agent *Agent
	path  string
	ln    net.Listener
}

// Listen binds the agent socket at path: stale socket files are unlinked,
// the parent directory is created, and the socket is restricted to the
// owning user.
func Listen(path string, reg *registry.Registry) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind agent socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, fmt.Errorf("restrict agent socket: %w", err)
	}

	logging.Infof("[mux] listening on %s", path)
	return &Server{agent: New(reg), path: path, ln: ln}, nil
}

// Path returns the listening socket path.
func (s *Server) Path() string {
	return s.path
}

// Run accepts agent clients until ctx is cancelled or the listener fails.
// Each connection is served on its own goroutine; a broken client never
// takes the listener down.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept agent connection: %w", err)
		}

		go func() {
			defer conn.Close()
			if err := sshagent.ServeAgent(s.agent, conn); err != nil && !errors.Is(err, io.EOF) {
				logging.Debugf("[mux] agent connection ended: %v", err)
			}
		}()
	}
}

// Close shuts the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
