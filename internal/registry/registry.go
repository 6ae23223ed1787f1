// Package registry tracks the upstream agent sockets the daemon multiplexes:
// the configured list from the config file and the watched map populated by
// discovery and the control plane.
package registry

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
)

// SocketSource says how a socket entered the registry.
type SocketSource string

const (
	SourceConfigured SocketSource = "configured"
	SourceWatched    SocketSource = "watched"
)

// SocketInfo is the projection of one registry entry exposed on the
// control plane. Timestamps are RFC 3339 strings.
type SocketInfo struct {
	Path            string       `json:"path"`
	Source          SocketSource `json:"source"`
	AddedAt         *string      `json:"added_at"`
	Healthy         bool         `json:"healthy"`
	LastHealthCheck *string      `json:"last_health_check"`
	KeyCount        *int         `json:"key_count"`
	Order           int          `json:"order"`
}

// watchedSocket is a runtime-discovered upstream with health metadata.
type watchedSocket struct {
	path            string
	createdAt       time.Time
	seq             uint64 // insertion order, breaks createdAt ties
	lastHealthy     *bool
	lastHealthCheck *time.Time
	keyCount        *int
}

// Registry holds both configured and watched sockets. All methods are safe
// for concurrent use; none of them performs socket I/O while holding the
// lock. Callers take an ordered snapshot and dial afterwards.
type Registry struct {
	mu              sync.Mutex
	configured      []string
	watched         map[string]*watchedSocket
	startedAt       time.Time
	lastHealthCheck *time.Time
	nextSeq         uint64
}

// New creates a registry seeded with the configured socket paths.
func New(configured []string) *Registry {
	r := &Registry{
		configured: append([]string(nil), configured...),
		watched:    make(map[string]*watchedSocket),
		startedAt:  time.Now(),
	}
	r.mu.Lock()
	r.logStateLocked("Initialized socket registry")
	r.mu.Unlock()
	return r
}

// StartedAt returns the daemon start instant.
func (r *Registry) StartedAt() time.Time {
	return r.startedAt
}

// UptimeSecs returns seconds since the registry was created.
func (r *Registry) UptimeSecs() uint64 {
	d := time.Since(r.startedAt)
	if d < 0 {
		return 0
	}
	return uint64(d.Seconds())
}

// AddWatched inserts a watched socket. Returns false when the path is
// already watched. Configured membership is not checked here; the control
// plane enforces that before calling.
func (r *Registry) AddWatched(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watched[path]; ok {
		logging.Debugf("[registry] socket already watched: %s", path)
		return false
	}

	r.nextSeq++
	r.watched[path] = &watchedSocket{
		path:      path,
		createdAt: time.Now(),
		seq:       r.nextSeq,
	}
	r.logStateLocked("Active sockets after adding forwarded agent " + path)
	return true
}

// RemoveWatched deletes a watched socket. Returns true iff it was present.
func (r *Registry) RemoveWatched(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watched[path]; !ok {
		logging.Debugf("[registry] socket not in watched list: %s", path)
		return false
	}
	delete(r.watched, path)
	r.logStateLocked("Active sockets after removing forwarded agent " + path)
	return true
}

// UpdateConfigured replaces the configured list wholesale (SIGHUP reload).
// Watched entries are untouched.
func (r *Registry) UpdateConfigured(configured []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configured = append([]string(nil), configured...)
	r.logStateLocked("Active sockets after configuration update")
}

// ValidateAndCleanup drops watched entries whose path no longer exists on
// disk and returns the removed paths. Liveness is not probed here.
func (r *Registry) ValidateAndCleanup() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for path := range r.watched {
		if _, err := os.Stat(path); err != nil {
			logging.Infof("[registry] removing non-existent watched socket: %s", path)
			delete(r.watched, path)
			removed = append(removed, path)
		}
	}
	if len(removed) > 0 {
		r.logStateLocked("Active sockets after cleanup")
	}
	return removed
}

// UpdateSocketHealth stamps health metadata on a watched entry. No-op for
// paths that are not watched. The registry-wide last-health-check instant
// is updated either way.
func (r *Registry) UpdateSocketHealth(path string, healthy bool, keyCount *int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if s, ok := r.watched[path]; ok {
		h := healthy
		s.lastHealthy = &h
		s.lastHealthCheck = &now
		s.keyCount = keyCount
	}
	r.lastHealthCheck = &now
}

// LastHealthCheck returns the most recent health-check instant, if any.
func (r *Registry) LastHealthCheck() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHealthCheck
}

// OrderedPaths returns the dispatch order: watched sockets newest first,
// then configured sockets in config order.
func (r *Registry) OrderedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedPathsLocked()
}

func (r *Registry) sortedWatchedLocked() []*watchedSocket {
	watched := make([]*watchedSocket, 0, len(r.watched))
	for _, s := range r.watched {
		watched = append(watched, s)
	}
	sort.Slice(watched, func(i, j int) bool {
		if !watched[i].createdAt.Equal(watched[j].createdAt) {
			return watched[i].createdAt.After(watched[j].createdAt)
		}
		return watched[i].seq > watched[j].seq
	})
	return watched
}

func (r *Registry) orderedPathsLocked() []string {
	result := make([]string, 0, len(r.watched)+len(r.configured))
	for _, s := range r.sortedWatchedLocked() {
		result = append(result, s.path)
	}
	result = append(result, r.configured...)
	return result
}

// SocketInfos returns the control-plane projection of every socket in
// ordered-view order, with 1-based order numbers.
func (r *Registry) SocketInfos() []SocketInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]SocketInfo, 0, len(r.watched)+len(r.configured))
	order := 1

	for _, s := range r.sortedWatchedLocked() {
		healthy := pathExists(s.path)
		if s.lastHealthy != nil {
			healthy = *s.lastHealthy
		}
		result = append(result, SocketInfo{
			Path:            s.path,
			Source:          SourceWatched,
			AddedAt:         rfc3339(&s.createdAt),
			Healthy:         healthy,
			LastHealthCheck: rfc3339(s.lastHealthCheck),
			KeyCount:        s.keyCount,
			Order:           order,
		})
		order++
	}

	for _, path := range r.configured {
		result = append(result, SocketInfo{
			Path:    path,
			Source:  SourceConfigured,
			Healthy: pathExists(path),
			Order:   order,
		})
		order++
	}

	return result
}

// IsWatched reports whether path is in the watched map.
func (r *Registry) IsWatched(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watched[path]
	return ok
}

// IsConfigured reports whether path is in the configured list.
func (r *Registry) IsConfigured(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.configured {
		if p == path {
			return true
		}
	}
	return false
}

// WatchedCount returns the number of watched sockets.
func (r *Registry) WatchedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watched)
}

// ConfiguredCount returns the number of configured sockets.
func (r *Registry) ConfiguredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configured)
}

// TotalCount returns the combined socket count.
func (r *Registry) TotalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watched) + len(r.configured)
}

// logStateLocked logs the current ordering. Callers must hold r.mu.
func (r *Registry) logStateLocked(context string) {
	ordered := r.orderedPathsLocked()
	if len(ordered) == 0 {
		logging.Infof("[registry] %s: no active agent sockets (watched: %d, configured: %d)",
			context, len(r.watched), len(r.configured))
		return
	}
	logging.Infof("[registry] %s: %d active agent sockets (watched: %d, configured: %d); order: %v",
		context, len(ordered), len(r.watched), len(r.configured), ordered)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func rfc3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
