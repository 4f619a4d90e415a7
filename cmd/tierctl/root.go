package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rcourtman/tierengine/internal/auth"
	"github.com/rcourtman/tierengine/internal/config"
	"github.com/rcourtman/tierengine/internal/kvstore"
	"github.com/rcourtman/tierengine/internal/logging"
	"github.com/rcourtman/tierengine/pkg/entitlement"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries per-invocation state shared by every subcommand.
type app struct {
	user      string
	principal string
	jsonOut   bool

	cfg      *config.Config
	store    kvstore.Store
	admins   *auth.AllowList
	resolver *entitlement.Resolver
	logger   zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "tierctl",
		Short:         "Inspect and manage tier entitlements",
		Long:          `tierctl reads and changes the stored tier, welcome trial and admin override for a user.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.user, "user", "u", entitlement.DefaultScope, "user scope to operate on")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(
		versionCmd(),
		a.statusCmd(),
		a.setTierCmd(),
		a.upgradeCmd(),
		a.downgradeCmd(),
		a.activatePaidCmd(),
		a.resetCmd(),
		a.trialCmd(),
		a.overrideCmd(),
		a.backupsCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tierctl %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

// withEngine wraps a command body with configuration, logging and store
// setup. The store is closed when the body returns.
func (a *app) withEngine(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		a.cfg = cfg

		logging.Init(logging.Config{
			Format:    cfg.LogFormat,
			Level:     cfg.LogLevel,
			Component: "tierctl",
			Output:    cmd.ErrOrStderr(),
		})
		ctx, _ := logging.WithOperationID(cmd.Context(), "")
		a.logger = logging.FromContext(ctx).With().Str("command", cmd.CommandPath()).Str("user", a.user).Logger()

		store, err := kvstore.Open(cfg.StoreOptions())
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		a.store = store
		defer func() {
			if err := store.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close store")
			}
		}()

		a.admins = auth.NewAllowList(cfg.Admins...)
		a.resolver = entitlement.NewResolver(store, a.resolverOptions())

		a.logger.Debug().Str("store", cfg.Store).Msg("Running command")
		return run(cmd, args)
	}
}

func (a *app) resolverOptions() entitlement.Options {
	return entitlement.Options{
		Scope:     a.user,
		Authorize: auth.Predicate(a.admins),
		Metrics:   entitlement.GetMetrics(),
		MigratorOptions: []entitlement.MigratorOption{
			entitlement.WithBackupRetention(a.cfg.BackupRetention()),
		},
	}
}

func (a *app) print(out io.Writer, v any, text func(io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(out)
	return nil
}
