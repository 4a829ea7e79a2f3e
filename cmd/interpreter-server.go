package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/curaious/isobox/internal/config"
	"github.com/curaious/isobox/internal/telemetry"
	"github.com/curaious/isobox/internal/tools"
	"github.com/curaious/isobox/pkg/sandbox"
	"github.com/curaious/isobox/pkg/sandbox/docker_sandbox"
	"github.com/curaious/isobox/pkg/sandbox/e2b_sandbox"
)

var interpreterServerCmd = &cobra.Command{
	Use:   "interpreter-server",
	Short: "Start the code-interpreter MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.ReadConfig()

		os.Setenv("OTEL_SERVICE_NAME", "interpreter-server")

		shutdownTelemetry := telemetry.NewProvider(conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		backend, err := newBackend(conf)
		if err != nil {
			slog.Error("failed to initialize sandbox backend", slog.Any("error", err))
			os.Exit(1)
		}

		s := server.NewMCPServer("code-interpreter", "0.1.0", server.WithToolCapabilities(false))
		tools.NewToolset(backend, conf.LOGS_DIR).Register(s)

		if err := server.ServeStdio(s); err != nil {
			slog.Error("mcp server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	},
}

// newBackend selects the execution backend once at startup; every tool call
// dispatches through the same instance.
func newBackend(conf *config.Config) (sandbox.Backend, error) {
	timeout := time.Duration(conf.DEFAULT_TIMEOUT) * time.Second
	switch conf.SANDBOX_BACKEND {
	case "e2b":
		return e2b_sandbox.NewManager(e2b_sandbox.Config{
			APIKey:         conf.E2B_API_KEY,
			Domain:         conf.E2B_DOMAIN,
			Template:       conf.DEFAULT_TEMPLATE_ID,
			DefaultTimeout: timeout,
		})
	default:
		return docker_sandbox.NewManager(docker_sandbox.Config{
			Image:          conf.SANDBOX_IMAGE,
			Network:        conf.SANDBOX_NETWORK,
			DefaultTimeout: timeout,
		})
	}
}

// Register the "interpreter-server" command
func init() {
	rootCmd.AddCommand(interpreterServerCmd)
}
