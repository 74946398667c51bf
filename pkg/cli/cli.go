// Package cli provides the cobra commands for running and managing a
// consensus node. Commands are attachable to any root so services can
// embed them.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	"github.com/amirimatin/go-consensus/pkg/config"
	"github.com/amirimatin/go-consensus/pkg/discovery/static"
	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
)

// AddAll attaches the node subcommands to the provided root command.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewProposeCmd())
	root.AddCommand(NewRecoveryCmd())
}

// NewRunCmd returns the "run" command used to start a node.
func NewRunCmd() *cobra.Command {
	var (
		cfgPath     string
		name        string
		bindAddr    string
		adminAddr   string
		dataDir     string
		joinCSV     string
		logLevel    string
		traceEnable bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			// Flags override the file.
			if name != "" {
				cfg.Node.Name = name
			}
			if bindAddr != "" {
				cfg.Node.BindAddr = bindAddr
				cfg.Node.AdvertiseAddr = ""
			}
			if adminAddr != "" {
				cfg.Metrics.Addr = adminAddr
			}
			if dataDir != "" {
				cfg.Node.DataDir = dataDir
			}
			if joinCSV != "" {
				cfg.Discovery.Mode = "static"
				cfg.Discovery.Seeds = static.Parse(joinCSV)
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					return fmt.Errorf("tracing setup: %w", err)
				}
				defer func() { _ = shutdown(context.Background()) }()
			}

			ctx, cancel := signalContext()
			defer cancel()

			node, err := bootstrap.Build(cfg)
			if err != nil {
				return err
			}
			if err := node.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				_ = node.Stop(stopCtx)
			}()

			fmt.Printf("node %s running on %s. Press Ctrl+C to exit.\n", cfg.Node.Name, cfg.Node.BindAddr)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "node.yaml", "path to the node YAML config")
	cmd.Flags().StringVar(&name, "name", "", "node name (overrides config)")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "peer RPC bind address (overrides config)")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin/metrics HTTP address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data", "", "data directory, or 'memory' (overrides config)")
	cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated seed addresses")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch node status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := adminGet(addr, "/status", timeout)
			if err != nil {
				return fmt.Errorf("status error: %w", err)
			}
			printBody(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9100", "admin HTTP address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

// NewProposeCmd returns the "propose" command.
func NewProposeCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "propose [payload]",
		Short: "Submit a payload for replication via the leader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := adminPost(addr, "/propose", strings.NewReader(args[0]), timeout)
			if err != nil {
				return fmt.Errorf("propose error: %w", err)
			}
			printBody(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9100", "admin HTTP address of the leader (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// NewRecoveryCmd returns the "recovery" command with enter/exit
// subcommands.
func NewRecoveryCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	parent := &cobra.Command{
		Use:   "recovery",
		Short: "Operator-driven recovery mode control",
	}
	parent.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9100", "admin HTTP address of a node (host:port)")
	parent.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")

	for _, sub := range []string{"enter", "exit"} {
		sub := sub
		parent.AddCommand(&cobra.Command{
			Use:   sub,
			Short: sub + " recovery mode",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := adminPost(addr, "/recovery/"+sub, nil, timeout)
				if err != nil {
					return fmt.Errorf("recovery %s error: %w", sub, err)
				}
				printBody(data)
				return nil
			},
		})
	}
	return parent
}

func adminGet(addr, path string, timeout time.Duration) ([]byte, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return nil, err
	}
	return readBody(resp)
}

func adminPost(addr, path string, body io.Reader, timeout time.Duration) ([]byte, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post("http://"+addr+path, "application/octet-stream", body)
	if err != nil {
		return nil, err
	}
	return readBody(resp)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func printBody(data []byte) {
	os.Stdout.Write(data)
	if len(data) == 0 || data[len(data)-1] != '\n' {
		os.Stdout.Write([]byte("\n"))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
