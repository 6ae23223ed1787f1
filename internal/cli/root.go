// Package cli defines the ssh-agent-mux command tree: `serve` runs the
// daemon, every other subcommand talks to a running daemon over the control
// socket.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kradalby/ssh-agent-mux/internal/control"
	"github.com/kradalby/ssh-agent-mux/internal/daemon"
)

var (
	flagControlSocket string
	flagJSON          bool
)

var rootCmd = &cobra.Command{
	Use:   "ssh-agent-mux",
	Short: "Multiplex SSH agent requests across several agents",
	Long: `ssh-agent-mux exposes a single SSH agent socket and federates requests
across a set of upstream agents: configured sockets (ssh-agent, gpg-agent,
hardware-backed agents) plus SSH-forwarded agents discovered under /tmp.`,
	Version:       daemon.Version + " (" + daemon.GitCommit + ")",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. Called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagControlSocket, "control-socket", "s", "",
		"control socket path (default derived from the listen socket)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
}

func controlSocketPath() string {
	if flagControlSocket != "" {
		if expanded, err := daemon.ExpandTilde(flagControlSocket); err == nil {
			return expanded
		}
		return flagControlSocket
	}
	return daemon.DefaultControlSocket()
}

// connectClient dials the daemon, with a hint when it is not running.
func connectClient() (*control.Client, error) {
	path := controlSocketPath()
	client, err := control.Connect(path)
	if err != nil {
		var cerr *control.ClientError
		if errors.As(err, &cerr) && cerr.Kind == control.ErrConnect {
			return nil, fmt.Errorf("%w\nIs ssh-agent-mux running?\nControl socket: %s", err, path)
		}
		return nil, err
	}
	return client, nil
}
