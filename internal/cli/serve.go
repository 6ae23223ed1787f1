package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kradalby/ssh-agent-mux/internal/daemon"
	"github.com/kradalby/ssh-agent-mux/internal/logging"
)

var serveFlags struct {
	configPath          string
	listenPath          string
	logLevel            string
	logFile             string
	watchForSSHForward  bool
	healthCheckInterval uint64
}

var serveCmd = &cobra.Command{
	Use:   "serve [agent-socket...]",
	Short: "Run the multiplexer daemon",
	Long: `Run the daemon: bind the agent socket, start forwarded-agent discovery
when enabled, and serve the control plane. Positional arguments are
configured upstream agent sockets, in priority order after any discovered
ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.LoadConfig(serveFlags.configPath)
		if err != nil {
			return err
		}

		// Explicit flags win over the config file.
		if cmd.Flags().Changed("listen") {
			cfg.ListenPath = serveFlags.listenPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = serveFlags.logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.LogFile = serveFlags.logFile
		}
		if cmd.Flags().Changed("watch-for-ssh-forward") {
			cfg.WatchForSSHForward = serveFlags.watchForSSHForward
		}
		if cmd.Flags().Changed("health-check-interval") {
			cfg.HealthCheckIntervalSecs = serveFlags.healthCheckInterval
		}
		if flagControlSocket != "" {
			cfg.ControlSocketPath = flagControlSocket
		}
		if len(args) > 0 {
			cfg.AgentSockPaths = args
		}

		if err := cfg.Normalize(); err != nil {
			return err
		}

		closeLog, err := logging.Setup(logging.ParseLevel(cfg.LogLevel), cfg.LogFile)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return daemon.New(cfg, serveFlags.configPath).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", daemon.DefaultConfigPath(), "config file path")
	serveCmd.Flags().StringVarP(&serveFlags.listenPath, "listen", "l", "", "agent socket path to listen on")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "log level (error, warn, info, debug)")
	serveCmd.Flags().StringVar(&serveFlags.logFile, "log-file", "", "log to this file instead of standard error")
	serveCmd.Flags().BoolVar(&serveFlags.watchForSSHForward, "watch-for-ssh-forward", false, "watch /tmp for SSH forwarded agents")
	serveCmd.Flags().Uint64Var(&serveFlags.healthCheckInterval, "health-check-interval", 0, "health check interval in seconds (0 to disable)")
}
