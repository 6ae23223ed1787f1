package watcher

import (
	"os"
	"path/filepath"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
)

// ScanExisting enumerates /tmp one level deep for forwarded agent sockets.
// Called once at startup and on every control-plane Reload.
func ScanExisting() ([]string, error) {
	return scanDir(TmpRoot)
}

// scanDir runs the startup scan against an arbitrary root. Missing
// candidates are skipped silently; any read error aborts the scan.
func scanDir(root string) ([]string, error) {
	logging.Debugf("[watcher] scanning %s for existing SSH forwarded agents", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var agents []string
	seen := make(map[string]bool)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirName := entry.Name()
		dirPath := filepath.Join(root, dirName)

		for _, pattern := range forwardedAgentPatterns {
			if !pattern.dir.matches(dirName) {
				continue
			}

			if pattern.file.exact != "" {
				candidate := filepath.Join(dirPath, pattern.file.exact)
				if _, err := os.Stat(candidate); err == nil && !seen[candidate] {
					seen[candidate] = true
					agents = append(agents, candidate)
				}
				continue
			}

			files, err := os.ReadDir(dirPath)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				if !pattern.file.matches(f.Name()) {
					continue
				}
				candidate := filepath.Join(dirPath, f.Name())
				if seen[candidate] {
					continue
				}
				seen[candidate] = true
				agents = append(agents, candidate)
			}
		}
	}

	logging.Infof("[watcher] found %d existing SSH forwarded agents", len(agents))
	return agents, nil
}

// matchingSubdirs lists directories directly under root whose name matches a
// session-directory pattern. Used to seed the smart watcher's subscriptions.
func matchingSubdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		for _, pattern := range forwardedAgentPatterns {
			if pattern.dir.matches(entry.Name()) {
				dirs = append(dirs, filepath.Join(root, entry.Name()))
				break
			}
		}
	}
	return dirs, nil
}
