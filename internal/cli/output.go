package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kradalby/ssh-agent-mux/internal/control"
	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printStatusHuman(status control.StatusInfo) {
	fmt.Printf("ssh-agent-mux v%s (%s)\n", status.Version, status.GitCommit)
	fmt.Printf("  PID:            %d\n", status.PID)
	fmt.Printf("  Uptime:         %s\n", formatDuration(status.UptimeSecs))
	fmt.Println()
	fmt.Println("Sockets:")
	fmt.Printf("  Agent:          %s\n", status.ListeningOn)
	fmt.Printf("  Control:        %s\n", status.ControlSocket)
	fmt.Println()
	fmt.Println("Watch:")
	fmt.Printf("  Enabled:        %s\n", yesNo(status.WatchEnabled))
	fmt.Printf("  Status:         %s\n", status.WatcherStatus)
	fmt.Println()
	fmt.Println("Stats:")
	fmt.Printf("  Upstream:       %d socket(s)\n", status.SocketCount)
	if status.KeyCount != nil {
		fmt.Printf("  Keys:           %d available\n", *status.KeyCount)
	}
}

func printSocketsHuman(sockets []registry.SocketInfo) {
	if len(sockets) == 0 {
		fmt.Println("No upstream agent sockets configured.")
		return
	}

	fmt.Printf("%-6s %-12s %-8s %-20s %s\n", "ORDER", "SOURCE", "HEALTHY", "ADDED", "PATH")
	for _, socket := range sockets {
		added := "-"
		if socket.AddedAt != nil {
			added = formatTimestamp(*socket.AddedAt)
		}
		fmt.Printf("%-6d %-12s %-8s %-20s %s\n",
			socket.Order, socket.Source, yesNo(socket.Healthy), added, socket.Path)
	}
}

func printKeysHuman(keys []control.KeyInfo) {
	if len(keys) == 0 {
		fmt.Println("No keys available.")
		return
	}

	fmt.Printf("%-50s %-10s %-30s %s\n", "FINGERPRINT", "TYPE", "COMMENT", "SOURCE")
	for _, key := range keys {
		fmt.Printf("%-50s %-10s %-30s %s\n",
			truncate(key.Fingerprint, 47), key.KeyType, truncate(key.Comment, 27), key.SourceSocket)
	}
}

func printHealthHuman(result control.HealthCheckResult) {
	fmt.Printf("Checking %d socket(s)...\n", len(result.Sockets))

	for i, socket := range result.Sockets {
		icon := "✗"
		if socket.Status == control.HealthHealthy {
			icon = "✓"
		}
		fmt.Printf("  [%d/%d] %s\n", i+1, len(result.Sockets), socket.Path)
		fmt.Printf("        Status: %s %s\n", icon, socket.Status.Display())
		if socket.KeyCount != nil {
			fmt.Printf("        Keys: %d\n", *socket.KeyCount)
		}
		if socket.Error != nil {
			fmt.Printf("        Error: %s\n", *socket.Error)
		}
	}

	fmt.Println()
	if result.UnhealthyCount == 0 {
		fmt.Println("All sockets healthy.")
	} else {
		fmt.Printf("%d healthy, %d unhealthy\n", result.HealthyCount, result.UnhealthyCount)
	}

	if len(result.Removed) > 0 {
		fmt.Println()
		fmt.Printf("Removed %d stale socket(s):\n", len(result.Removed))
		for _, path := range result.Removed {
			fmt.Printf("  - %s\n", path)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// formatDuration renders seconds the way uptime tools do.
func formatDuration(secs uint64) string {
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	case secs < 86400:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	default:
		return fmt.Sprintf("%dd %dh", secs/86400, (secs%86400)/3600)
	}
}

// formatTimestamp reformats an RFC 3339 timestamp for table display,
// falling back to the raw string.
func formatTimestamp(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
