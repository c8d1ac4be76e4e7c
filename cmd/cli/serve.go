package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/daemon"
	"github.com/vigilsec/vigil/internal/logging"
)

var (
	servePort    int
	servePIDFile string
)

// serveCmd runs the daemon in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vigil daemon",
	Long: `Run the vigil daemon in the foreground: the scan engine, the
scheduled scan sweeper, and the REST API server. The process exits on
SIGINT or SIGTERM after a graceful shutdown.`,
	Example: `  vigil serve
  vigil serve --config /etc/vigil/config.yaml
  vigil serve --port 9090`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the API server port")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "override the PID file path")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if servePort != 0 {
		cfg.API.Port = servePort
	}
	if servePIDFile != "" {
		cfg.Daemon.PIDFile = servePIDFile
	}

	d := daemon.New(cfg, logging.Default())
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running daemon: %v\n", err)
		os.Exit(1)
	}
}
