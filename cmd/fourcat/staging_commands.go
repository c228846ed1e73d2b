package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"fourcat/internal/config"
	"fourcat/internal/logging"
	"fourcat/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and clean processor staging areas",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staging areas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			areas, err := staging.Survey(cfg.Paths.StagingDir)
			if err != nil {
				return fmt.Errorf("list staging areas: %w", err)
			}
			if asJSON {
				if areas == nil {
					areas = []staging.AreaInfo{}
				}
				return writeJSON(cmd, areas)
			}

			out := cmd.OutOrStdout()
			if len(areas) == 0 {
				fmt.Fprintln(out, "No staging areas")
				return nil
			}
			var total int64
			rows := make([][]string, 0, len(areas))
			for _, area := range areas {
				total += area.Size
				label := area.Label
				if label == "" {
					label = "-"
				}
				rows = append(rows, []string{
					area.Name,
					label,
					humanize.Time(area.ModTime),
					strconv.Itoa(area.Files),
					humanize.IBytes(uint64(area.Size)),
				})
			}
			fmt.Fprintf(out, "Staging directory: %s\n", cfg.Paths.StagingDir)
			fmt.Fprint(out, renderTable(
				[]string{"Area", "Label", "Modified", "Files", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Total: %d areas, %s\n", len(areas), humanize.IBytes(uint64(total)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove staging areas left behind by crashed runs (daemon must be stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = time.Duration(cfg.Workflow.StaleStagingAge) * time.Second
			}
			return whileDaemonStopped(cfg, func() error {
				result := staging.CleanStale(cmd.Context(), cfg.Paths.StagingDir, olderThan, logging.NewNop())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d staging areas\n", len(result.Removed))
				for _, failure := range result.Errors {
					fmt.Fprintf(out, "  Error: %s: %v\n", failure.Path, failure.Error)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d staging areas could not be removed", len(result.Errors))
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove areas not modified for this long (default stale_staging_age, 0 removes all)")
	return cmd
}

// whileDaemonStopped runs fn holding the daemon lock so no worker can be
// using the queue claims or staging areas fn touches.
func whileDaemonStopped(cfg *config.Config, fn func() error) error {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("the daemon is running; stop it first")
	}
	defer lock.Unlock()
	return fn()
}
