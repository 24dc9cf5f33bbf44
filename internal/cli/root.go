package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerflow/internal/config"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/ledger/wsrpc"
)

// Dialer opens a ledger client for a configured network.
type Dialer func(ctx context.Context, n config.Network, logger *slog.Logger) (ledger.Client, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	ConfigPath  string
	Network     string
	Endpoint    string
	Database    string
	MetricsAddr string

	// Dial defaults to the websocket gateway client. Tests replace it.
	Dial Dialer

	// Resolved in PersistentPreRunE.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ledgerflow CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Dial: dialWebsocket})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerflow",
		Short: "Submit transactions and follow ledger state",
		Long: `ledgerflow submits transactions to a ledger gateway, tracks them until
they are confirmed or fail, and keeps application state in sync with
live ledger subscriptions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd, opts.Verbose)
			slog.SetDefault(opts.Logger)

			cfg, err := loadConfig(opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config")
	pf.StringVarP(&opts.Network, "network", "n", "", "network id (default: config default_network)")
	pf.StringVar(&opts.Endpoint, "endpoint", "", "gateway endpoint; overrides the selected network's endpoint")
	pf.StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	pf.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.Endpoint != "" {
		id := opts.Network
		if id == "" {
			id = cfg.DefaultNetwork
		}
		if id == "" {
			id = "local"
		}
		i := slices.IndexFunc(cfg.Networks, func(n config.Network) bool { return n.ID == id })
		if i < 0 {
			cfg.Networks = append(cfg.Networks, config.Network{ID: id})
			i = len(cfg.Networks) - 1
		}
		cfg.Networks[i].Endpoint = opts.Endpoint
		if cfg.DefaultNetwork == "" {
			cfg.DefaultNetwork = id
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func dialWebsocket(ctx context.Context, n config.Network, logger *slog.Logger) (ledger.Client, error) {
	return wsrpc.Dial(ctx, n.Endpoint, wsrpc.WithLogger(logger.With("network", n.ID)))
}
