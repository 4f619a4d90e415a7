package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rcourtman/tierengine/pkg/entitlement"
	"github.com/rcourtman/tierengine/pkg/tiers"
	"github.com/spf13/cobra"
)

var errNotStored = errors.New("change was not stored; see logs for details")

type statusOutput struct {
	User     string                  `json:"user"`
	Display  entitlement.DisplayInfo `json:"tier"`
	State    entitlement.StateInfo   `json:"state"`
	Features map[string]bool         `json:"features"`
}

func (a *app) statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the effective tier, trial and override for a user",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		status := statusOutput{
			User:     a.resolver.Scope(),
			Display:  a.resolver.TierDisplayInfo(),
			State:    a.resolver.State(),
			Features: make(map[string]bool),
		}
		for _, flag := range tiers.FeatureNames() {
			status.Features[flag] = a.resolver.CanAccessFeature(flag)
		}

		return a.print(cmd.OutOrStdout(), status, func(out io.Writer) {
			d := status.Display
			fmt.Fprintf(out, "User:      %s\n", status.User)
			fmt.Fprintf(out, "Tier:      %s (%s)\n", d.DisplayName, d.Name)
			fmt.Fprintf(out, "Stored:    %s\n", d.StoredTier)
			fmt.Fprintf(out, "Source:    %s\n", d.Source)
			fmt.Fprintf(out, "State:     %s\n", status.State.State)
			if d.IsOnTrial {
				if d.TrialExpired {
					fmt.Fprintln(out, "Trial:     expired")
				} else {
					fmt.Fprintf(out, "Trial:     %d day(s) remaining\n", d.TrialDaysRemaining)
				}
			}
			if d.OverrideActive {
				fmt.Fprintln(out, "Override:  active")
			}
			fmt.Fprintln(out, "Features:")
			for _, flag := range tiers.FeatureNames() {
				mark := "no"
				if status.Features[flag] {
					mark = "yes"
				}
				fmt.Fprintf(out, "  %-20s %s\n", flag, mark)
			}
		})
	})
	return cmd
}

func (a *app) reportTier(cmd *cobra.Command, verb string) error {
	info := a.resolver.TierDisplayInfo()
	return a.print(cmd.OutOrStdout(), info, func(out io.Writer) {
		fmt.Fprintf(out, "%s %s: effective tier is %s\n", verb, a.resolver.Scope(), info.Name)
	})
}

func (a *app) setTierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-tier <tier>",
		Short: "Store a tier for the user",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if _, err := tiers.Parse(args[0]); err != nil {
			return fmt.Errorf("%w: %q (valid: %s)", entitlement.ErrInvalidTierName, args[0], tierList())
		}
		if !a.resolver.SetTier(args[0], &entitlement.Metadata{Source: "tierctl"}) {
			return errNotStored
		}
		return a.reportTier(cmd, "Updated")
	})
	return cmd
}

func (a *app) upgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Move the user to paid Pro",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if !a.resolver.UpgradeToPro() {
			return errNotStored
		}
		return a.reportTier(cmd, "Upgraded")
	})
	return cmd
}

func (a *app) downgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downgrade",
		Short: "Move the user to Advanced",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if !a.resolver.DowngradeToAdvanced() {
			return errNotStored
		}
		return a.reportTier(cmd, "Downgraded")
	})
	return cmd
}

func (a *app) activatePaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate-paid",
		Short: "Activate paid Pro after payment approval",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		from := a.resolver.State().State
		if from != entitlement.StateProPaid && !entitlement.CanTransition(from, entitlement.StateProPaid) {
			return fmt.Errorf("cannot activate paid Pro from state %s", from)
		}
		if !a.resolver.ActivateProAfterPayment() {
			return errNotStored
		}
		return a.reportTier(cmd, "Activated")
	})
	return cmd
}

func (a *app) resetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored tier record (overrides and backups are kept)",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	cmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if !force {
			return errors.New("reset deletes the stored tier record; rerun with --force")
		}
		if !a.resolver.Reset() {
			return errNotStored
		}
		return a.reportTier(cmd, "Reset")
	})
	return cmd
}

func (a *app) trialCmd() *cobra.Command {
	trialCmd := &cobra.Command{
		Use:   "trial",
		Short: "Welcome trial commands",
	}

	var days int
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a Pro welcome trial for a user without a record",
		Args:  cobra.NoArgs,
	}
	startCmd.Flags().IntVar(&days, "days", 0, "trial length in days (defaults to TIERENGINE_TRIAL_DAYS)")
	startCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if days <= 0 {
			days = a.cfg.TrialDays
		}
		if !a.resolver.InitializeTrial(days) {
			return fmt.Errorf("trial not started for %s: a tier record already exists or could not be stored", a.resolver.Scope())
		}
		status := a.resolver.TrialStatus()
		return a.print(cmd.OutOrStdout(), status, func(out io.Writer) {
			fmt.Fprintf(out, "Started %d day welcome trial for %s\n", status.DaysRemaining, a.resolver.Scope())
		})
	})

	var all bool
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Downgrade the user if the welcome trial has ended",
		Args:  cobra.NoArgs,
	}
	checkCmd.Flags().BoolVar(&all, "all", false, "check every stored user instead of --user")
	checkCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if all {
			results, err := entitlement.CheckAllTrials(cmd.Context(), a.store, a.resolverOptions(), entitlement.DefaultBatchConcurrency)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), results, func(out io.Writer) {
				downgraded := 0
				for _, r := range results {
					if r.Result.Downgraded {
						downgraded++
					}
					fmt.Fprintf(out, "%-24s %s\n", r.Scope, r.Result.Message)
				}
				fmt.Fprintf(out, "Checked %d user(s), downgraded %d\n", len(results), downgraded)
			})
		}
		result := a.resolver.CheckTrialExpiration()
		return a.print(cmd.OutOrStdout(), result, func(out io.Writer) {
			fmt.Fprintln(out, result.Message)
		})
	})

	trialCmd.AddCommand(startCmd, checkCmd)
	return trialCmd
}

func (a *app) overrideCmd() *cobra.Command {
	overrideCmd := &cobra.Command{
		Use:   "override",
		Short: "Admin override commands",
	}
	overrideCmd.PersistentFlags().StringVar(&a.principal, "as", "", "acting admin principal (must match TIERENGINE_ADMINS)")

	setCmd := &cobra.Command{
		Use:   "set <tier>",
		Short: "Force a tier for the user regardless of record and trial",
		Args:  cobra.ExactArgs(1),
	}
	setCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		rec, err := a.resolver.SetOverride(args[0], a.principal)
		if err != nil {
			return err
		}
		a.logger.Info().Str("tier", string(rec.Tier)).Str("principal", rec.SetBy).Msg("Override applied from CLI")
		return a.print(cmd.OutOrStdout(), rec, func(out io.Writer) {
			fmt.Fprintf(out, "Override set: %s is now %s (by %s)\n", a.resolver.Scope(), rec.Tier, rec.SetBy)
		})
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the admin override",
		Args:  cobra.NoArgs,
	}
	clearCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		if err := a.resolver.ClearOverride(a.principal); err != nil {
			return err
		}
		return a.reportTier(cmd, "Override cleared for")
	})

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active admin override",
		Args:  cobra.NoArgs,
	}
	showCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		rec := a.resolver.Override()
		return a.print(cmd.OutOrStdout(), rec, func(out io.Writer) {
			if rec == nil {
				fmt.Fprintln(out, "No active override")
				return
			}
			fmt.Fprintf(out, "Override: %s (set by %s at %s)\n", rec.Tier, rec.SetBy, rec.SetAt.Format("2006-01-02T15:04:05Z07:00"))
		})
	})

	overrideCmd.AddCommand(setCmd, clearCmd, showCmd)
	return overrideCmd
}

type sweepOutput struct {
	Removed int `json:"removed"`
}

func (a *app) backupsCmd() *cobra.Command {
	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "Pre-migration backup commands",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List backups of the user's tier record",
		Args:  cobra.NoArgs,
	}
	listCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		keys, err := a.resolver.Migrator().Backups(entitlement.RecordKey(a.resolver.Scope()))
		if err != nil {
			return err
		}
		return a.print(cmd.OutOrStdout(), keys, func(out io.Writer) {
			if len(keys) == 0 {
				fmt.Fprintln(out, "No backups")
				return
			}
			for _, key := range keys {
				fmt.Fprintln(out, key)
			}
		})
	})

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete backups older than the retention window (all users)",
		Args:  cobra.NoArgs,
	}
	sweepCmd.RunE = a.withEngine(func(cmd *cobra.Command, args []string) error {
		removed, err := a.resolver.Migrator().SweepBackups()
		if err != nil {
			a.logger.Warn().Err(err).Int("removed", removed).Msg("Backup sweep finished with errors")
		}
		if printErr := a.print(cmd.OutOrStdout(), sweepOutput{Removed: removed}, func(out io.Writer) {
			fmt.Fprintf(out, "Removed %d backup(s)\n", removed)
		}); printErr != nil {
			return printErr
		}
		return err
	})

	backupsCmd.AddCommand(listCmd, sweepCmd)
	return backupsCmd
}

func tierList() string {
	names := tiers.Names()
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = string(name)
	}
	return strings.Join(out, ", ")
}
