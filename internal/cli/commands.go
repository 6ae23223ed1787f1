package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectClient()
		if err != nil {
			return err
		}
		defer client.Close()

		status, err := client.Status()
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(status)
		}
		printStatusHuman(status)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List upstream agent sockets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectClient()
		if err != nil {
			return err
		}
		defer client.Close()

		sockets, err := client.ListSockets()
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(sockets)
		}
		printSocketsHuman(sockets)
		return nil
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List all available SSH keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectClient()
		if err != nil {
			return err
		}
		defer client.Close()

		keys, err := client.ListKeys()
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(keys)
		}
		printKeysHuman(keys)
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-scan for forwarded agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageCommand(func() (string, error) {
			client, err := connectClient()
			if err != nil {
				return "", err
			}
			defer client.Close()
			return client.Reload()
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check socket files, remove stale sockets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageCommand(func() (string, error) {
			client, err := connectClient()
			if err != nil {
				return "", err
			}
			defer client.Close()
			return client.Validate()
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a socket to the watched list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageCommand(func() (string, error) {
			client, err := connectClient()
			if err != nil {
				return "", err
			}
			defer client.Close()
			return client.AddSocket(args[0])
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a socket from the watched list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageCommand(func() (string, error) {
			client, err := connectClient()
			if err != nil {
				return "", err
			}
			defer client.Close()
			return client.RemoveSocket(args[0])
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Full health check of all sockets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectClient()
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.HealthCheck()
		if err != nil {
			return err
		}
		if flagJSON {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			printHealthHuman(result)
		}

		// Non-zero exit when any socket is unhealthy; scripts rely on it.
		if result.UnhealthyCount > 0 {
			os.Exit(1)
		}
		return nil
	},
}

// messageCommand renders the success-message style shared by reload,
// validate, add, and remove.
func messageCommand(run func() (string, error)) error {
	message, err := run()
	if err != nil {
		if flagJSON {
			printJSON(map[string]any{"success": false, "error": err.Error()})
			os.Exit(1)
		}
		return err
	}
	if flagJSON {
		return printJSON(map[string]any{"success": true, "message": message})
	}
	fmt.Println(message)
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd, listKeysCmd, reloadCmd, validateCmd, addCmd, removeCmd, healthCmd)
}
