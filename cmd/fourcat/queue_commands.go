package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fourcat/internal/daemon"
	"fourcat/internal/queue"
	"fourcat/internal/registry"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueReleaseAllCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var params []string
	var input string
	var remoteID string
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Queue a new dataset, or a recurring job with --every",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			return ctx.withDaemon(func(d *daemon.Daemon, _ *queue.Store) error {
				out := cmd.OutOrStdout()
				if every > 0 {
					if len(parsed) > 0 || input != "" {
						return errors.New("recurring jobs take no parameters or input")
					}
					job, err := d.Schedule(cmd.Context(), args[0], every)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Scheduled %s every %s (job %d)\n", job.Type, job.Interval, job.ID)
					return nil
				}

				ds, job, err := d.Queue(cmd.Context(), daemon.QueueRequest{
					Type:       args[0],
					Parameters: parsed,
					InputPath:  input,
					RemoteID:   remoteID,
				})
				if err != nil {
					return err
				}
				if job == nil {
					fmt.Fprintf(out, "Dataset %s already %s\n", ds.Key, ds.Status)
					return nil
				}
				fmt.Fprintf(out, "Queued dataset %s (job %d)\n", ds.Key, job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Processor option as key=value (repeatable)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Raw input file for the dataset")
	cmd.Flags().StringVar(&remoteID, "remote-id", "", "Deduplicate submissions sharing this id")
	cmd.Flags().DurationVar(&every, "every", 0, "Schedule a recurring datasetless job at this interval")
	return cmd
}

func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var types []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
				jobs, err := store.ListJobs(cmd.Context(), types...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Type", "Dataset", "State", "Attempts", "Created", "Eligible"},
					buildJobRows(jobs, time.Now()),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Filter by job type (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildJobRows(jobs []*queue.Job, now time.Time) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		state := "waiting"
		switch {
		case job.Claimed:
			state = "claimed"
		case job.ClaimAfter.After(now):
			state = "delayed"
		}
		if job.Recurring() {
			state += fmt.Sprintf(" (every %s)", job.Interval)
		}
		dataset := job.DatasetKey()
		if dataset == "" {
			dataset = "-"
		} else {
			dataset = shortKey(dataset)
		}
		eligible := "now"
		if job.ClaimAfter.After(now) {
			eligible = formatTime(job.ClaimAfter)
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.Type,
			dataset,
			state,
			strconv.Itoa(job.Attempts),
			formatTime(job.CreatedAt),
			eligible,
		})
	}
	return rows
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(stats) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					rows = append(rows, []string{
						s.Type,
						strconv.Itoa(s.Queued),
						strconv.Itoa(s.Delayed),
						strconv.Itoa(s.Claimed),
						strconv.Itoa(s.Total()),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Type", "Queued", "Delayed", "Claimed", "Total"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dataset-key>",
		Short: "Re-run an errored or stalled dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(func(d *daemon.Daemon, _ *queue.Store) error {
				ds, job, err := d.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if ds.Key != strings.TrimSpace(args[0]) {
					fmt.Fprintf(out, "Queued retry dataset %s (job %d)\n", ds.Key, job.ID)
					return nil
				}
				fmt.Fprintf(out, "Requeued dataset %s (job %d)\n", ds.Key, job.ID)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove unclaimed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
				removed, err := store.Clear(cmd.Context(), types...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Only clear jobs of this type (repeatable)")
	return cmd
}

func newQueueReleaseAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release-all",
		Short: "Release every claimed job (daemon must be stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return whileDaemonStopped(cfg, func() error {
				return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
					released, err := store.ReleaseAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Released %d claimed jobs\n", released)
					return nil
				})
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", health.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(health.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "Tables: %s\n", strings.Join(health.TablesPresent, ", "))
				if len(health.MissingColumns) > 0 {
					fmt.Fprintf(out, "Missing columns: %s\n", strings.Join(health.MissingColumns, ", "))
				}
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Jobs: %d\n", health.TotalJobs)
				fmt.Fprintf(out, "Datasets: %d\n", health.TotalDatasets)
				return nil
			})
		},
	}
}
