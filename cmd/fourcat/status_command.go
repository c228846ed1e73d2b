package main

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"fourcat/internal/daemon"
	"fourcat/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, directory and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, "Daemon")
			probe := flock.New(cfg.LockPath())
			locked, err := probe.TryRLock()
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("Process", statusWarn, err.Error(), colorize))
			case locked:
				_ = probe.Unlock()
				fmt.Fprintln(out, renderStatusLine("Process", statusInfo, "not running", colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("Process", statusOK, "running", colorize))
			}
			if ctx.configPath != "" {
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}

			return ctx.withDaemon(func(d *daemon.Daemon, store *queue.Store) error {
				fmt.Fprintln(out, "\nPreflight")
				for _, result := range d.Preflight(cmd.Context()) {
					kind := statusOK
					if !result.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				counts, err := store.DatasetCounts(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "\nQueue")
				if len(stats) == 0 {
					fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, "queue is empty", colorize))
				}
				for _, s := range stats {
					fmt.Fprintln(out, renderStatusLine(label(s.Type), statusInfo,
						fmt.Sprintf("%d queued, %d delayed, %d claimed", s.Queued, s.Delayed, s.Claimed), colorize))
				}
				fmt.Fprintln(out, "\nDatasets")
				for _, status := range queue.AllStatuses() {
					kind := statusInfo
					if status == queue.StatusError && counts[status] > 0 {
						kind = statusWarn
					}
					fmt.Fprintln(out, renderStatusLine(label(string(status)), kind, fmt.Sprintf("%d", counts[status]), colorize))
				}
				return nil
			})
		},
	}
}
