// Package watcher discovers SSH-forwarded agent sockets under /tmp. The
// preferred mode subscribes to file events via fsnotify; when that cannot be
// established the caller falls back to a polling loop. Both modes deliver
// Event values on a channel drained by a single consumer.
package watcher

import (
	"path/filepath"
	"strings"
)

// TmpRoot is where sshd materialises forwarded agent sockets.
const TmpRoot = "/tmp"

// namePattern matches a single path component.
type namePattern struct {
	prefix string // non-empty: component must start with prefix
	exact  string // non-empty: component must equal exact
}

func (p namePattern) matches(name string) bool {
	if p.exact != "" {
		return name == p.exact
	}
	return strings.HasPrefix(name, p.prefix)
}

// forwardedAgentPattern pairs a session-directory pattern with the socket
// file pattern inside it.
type forwardedAgentPattern struct {
	dir  namePattern
	file namePattern
}

// Supported layouts:
//   - /tmp/ssh-*/agent.*          (OpenSSH sshd)
//   - /tmp/auth-agent*/listener.sock
var forwardedAgentPatterns = []forwardedAgentPattern{
	{dir: namePattern{prefix: "ssh-"}, file: namePattern{prefix: "agent."}},
	{dir: namePattern{prefix: "auth-agent"}, file: namePattern{exact: "listener.sock"}},
}

// EventKind discriminates watch events.
type EventKind int

const (
	// EventAdded means a new forwarded agent socket was detected.
	EventAdded EventKind = iota
	// EventRemoved means a forwarded agent socket went away.
	EventRemoved
)

// Event is one discovery observation.
type Event struct {
	Kind EventKind
	Path string
}

func (k EventKind) String() string {
	if k == EventAdded {
		return "added"
	}
	return "removed"
}

// IsSSHForwardedAgent reports whether path names a forwarded agent socket.
// Purely name-based: the path must sit under /tmp, its parent directory must
// match a session-directory pattern and its file name the paired file
// pattern. No filesystem access.
func IsSSHForwardedAgent(path string) bool {
	return matchesForwardedAgent(TmpRoot, path)
}

func matchesForwardedAgent(root, path string) bool {
	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return false
	}

	dirName := filepath.Base(filepath.Dir(path))
	fileName := filepath.Base(path)
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return false
	}

	for _, p := range forwardedAgentPatterns {
		if p.dir.matches(dirName) && p.file.matches(fileName) {
			return true
		}
	}
	return false
}
