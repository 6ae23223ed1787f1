package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
	"github.com/kradalby/ssh-agent-mux/internal/mux"
	"github.com/kradalby/ssh-agent-mux/internal/registry"
	"github.com/kradalby/ssh-agent-mux/internal/watcher"
)

// ServerState is the daemon state the control server reports and mutates.
type ServerState struct {
	Registry      *registry.Registry
	ListenPath    string
	ControlPath   string
	WatchEnabled  bool
	WatcherStatus WatcherStatus
	Version       string
	GitCommit     string
	PID           int
}

// Server accepts management connections on the control socket.
type Server struct {
	ln    net.Listener
	path  string
	state *ServerState
}

// Bind creates the control socket, unlinking any stale file and creating
// the parent directory first.
func Bind(path string, state *ServerState) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create control socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale control socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind control socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, fmt.Errorf("restrict control socket: %w", err)
	}

	logging.Infof("[control] server listening on %s", path)
	return &Server{ln: ln, path: path, state: state}, nil
}

// Run accepts connections until ctx is cancelled; each connection gets its
// own handler goroutine and may carry many requests.
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
			return fmt.Errorf("accept control connection: %w", err)
		}

		go func() {
			if err := s.handleConn(conn); err != nil {
				logging.Warnf("[control] connection error: %v", err)
			}
		}()
	}
}

// Close shuts the listener and removes the control socket file.
func (s *Server) Close() error {
	logging.Debugf("[control] cleaning up control socket %s", s.path)
	err := s.ln.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// AcceptOne handles a single connection synchronously. Test hook.
func (s *Server) AcceptOne() error {
	conn, err := s.ln.Accept()
	if err != nil {
		return err
	}
	return s.handleConn(conn)
}

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(line, &req); err != nil {
			// Invalid JSON costs one Error response, not the connection.
			resp = ErrorResponse("Invalid request: %v", err)
		} else {
			logging.Debugf("[control] request: %s", req.Type)
			resp = s.handleRequest(req)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if _, err := writer.Write(append(out, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Type {
	case RequestPing:
		return PongResponse()

	case RequestStatus:
		return StatusResponse(StatusInfo{
			Version:       s.state.Version,
			GitCommit:     s.state.GitCommit,
			UptimeSecs:    s.state.Registry.UptimeSecs(),
			PID:           s.state.PID,
			ListeningOn:   s.state.ListenPath,
			ControlSocket: s.state.ControlPath,
			WatchEnabled:  s.state.WatchEnabled,
			WatcherStatus: s.state.WatcherStatus,
			SocketCount:   s.state.Registry.TotalCount(),
		})

	case RequestListSockets:
		return SocketsResponse(s.state.Registry.SocketInfos())

	case RequestListKeys:
		return s.handleListKeys()

	case RequestReload:
		return s.handleReload()

	case RequestValidateSockets:
		return s.handleValidate()

	case RequestAddSocket:
		if req.Data == nil || req.Data.Path == "" {
			return ErrorResponse("AddSocket requires a path")
		}
		return s.handleAddSocket(req.Data.Path)

	case RequestRemoveSocket:
		if req.Data == nil || req.Data.Path == "" {
			return ErrorResponse("RemoveSocket requires a path")
		}
		return s.handleRemoveSocket(req.Data.Path)

	case RequestHealthCheck:
		return s.handleHealthCheck()

	default:
		return ErrorResponse("Unknown request type: %s", req.Type)
	}
}

// handleListKeys queries every upstream in ordered-view order and tags each
// key with its source socket. Unreachable upstreams contribute nothing.
func (s *Server) handleListKeys() Response {
	snapshot := s.state.Registry.OrderedPaths()

	keys := []KeyInfo{}
	for _, path := range snapshot {
		upstream, err := mux.ListUpstreamKeys(path)
		if err != nil {
			logging.Debugf("[control] ListKeys skipping %s: %v", path, err)
			continue
		}
		for _, k := range upstream {
			keys = append(keys, keyInfoFromAgentKey(k, path))
		}
	}
	return KeysResponse(keys)
}

func (s *Server) handleReload() Response {
	if !s.state.WatchEnabled {
		return ErrorResponse("SSH forwarding watch is not enabled")
	}

	agents, err := watcher.ScanExisting()
	if err != nil {
		return ErrorResponse("Failed to scan for agents: %v", err)
	}

	added := 0
	for _, agent := range agents {
		if s.state.Registry.AddWatched(agent) {
			added++
		}
	}
	removed := s.state.Registry.ValidateAndCleanup()

	return SuccessResponse(fmt.Sprintf("Reload complete: %d added, %d removed", added, len(removed)))
}

func (s *Server) handleValidate() Response {
	removed := s.state.Registry.ValidateAndCleanup()
	if len(removed) == 0 {
		return SuccessResponse("All sockets healthy")
	}
	return SuccessResponse(fmt.Sprintf("Removed %d stale socket(s): %s",
		len(removed), strings.Join(removed, ", ")))
}

func (s *Server) handleAddSocket(path string) Response {
	if _, err := os.Stat(path); err != nil {
		return ErrorResponse("Socket does not exist: %s", path)
	}
	if s.state.Registry.IsWatched(path) || s.state.Registry.IsConfigured(path) {
		return ErrorResponse("Socket already tracked: %s", path)
	}
	if !s.state.Registry.AddWatched(path) {
		return ErrorResponse("Failed to add socket: %s", path)
	}
	return SuccessResponse("Added socket: " + path)
}

func (s *Server) handleRemoveSocket(path string) Response {
	// Configured sockets belong to the config file, not the control plane.
	if s.state.Registry.IsConfigured(path) {
		return ErrorResponse("Cannot remove configured socket: %s (edit config file instead)", path)
	}
	if !s.state.Registry.RemoveWatched(path) {
		return ErrorResponse("Socket not found in watched list: %s", path)
	}
	return SuccessResponse("Removed socket: " + path)
}

func (s *Server) handleHealthCheck() Response {
	snapshot := s.state.Registry.OrderedPaths()

	results := make([]SocketHealthInfo, 0, len(snapshot))
	healthy, unhealthy := 0, 0

	for _, path := range snapshot {
		info := checkSocketHealth(path)
		if info.Status == HealthHealthy {
			healthy++
		} else {
			unhealthy++
		}
		s.state.Registry.UpdateSocketHealth(path, info.Status == HealthHealthy, info.KeyCount)
		results = append(results, info)
	}

	removed := s.state.Registry.ValidateAndCleanup()
	if removed == nil {
		removed = []string{}
	}

	return HealthCheckResponse(HealthCheckResult{
		Sockets:        results,
		HealthyCount:   healthy,
		UnhealthyCount: unhealthy,
		Removed:        removed,
	})
}
