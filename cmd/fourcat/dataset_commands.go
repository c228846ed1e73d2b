package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fourcat/internal/queue"
	"fourcat/internal/registry"
)

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	datasetCmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect datasets",
	}
	datasetCmd.AddCommand(newDatasetListCommand(ctx))
	datasetCmd.AddCommand(newDatasetShowCommand(ctx))
	return datasetCmd
}

func newDatasetListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var typeFilter string
	var parent string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.DatasetFilter{Type: typeFilter, ParentKey: parent, Limit: limit}
			for _, raw := range statuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
				datasets, err := store.ListDatasets(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, datasets)
				}
				out := cmd.OutOrStdout()
				if len(datasets) == 0 {
					fmt.Fprintln(out, "No datasets")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(datasets))
				for _, ds := range datasets {
					parentKey := "-"
					if !ds.IsTopLevel() {
						parentKey = shortKey(ds.ParentKey)
					}
					rows = append(rows, []string{
						shortKey(ds.Key),
						ds.Type,
						datasetStatusLabel(ds.Status, colorize),
						strconv.FormatInt(ds.RowCount, 10),
						parentKey,
						formatTime(ds.UpdatedAt),
						ds.StatusMessage,
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Key", "Type", "Status", "Rows", "Parent", "Updated", "Message"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "Filter by processor type")
	cmd.Flags().StringVar(&parent, "parent", "", "Only children of this dataset")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of datasets")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newDatasetShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Show a dataset and its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store, _ *registry.Registry) error {
				ds, err := store.RequireDataset(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				children, err := store.ChildrenOf(cmd.Context(), ds.Key)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						*queue.Dataset
						Children []*queue.Dataset
					}{ds, children})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Key:       %s\n", ds.Key)
				fmt.Fprintf(out, "Type:      %s (%s)\n", ds.Type, label(ds.Type))
				fmt.Fprintf(out, "Status:    %s\n", datasetStatusLabel(ds.Status, colorize))
				if ds.StatusMessage != "" {
					fmt.Fprintf(out, "Message:   %s\n", ds.StatusMessage)
				}
				if !ds.IsTopLevel() {
					fmt.Fprintf(out, "Parent:    %s\n", ds.ParentKey)
				}
				if ds.InputPath != "" {
					fmt.Fprintf(out, "Input:     %s\n", ds.InputPath)
				}
				if ds.ResultLocation != "" {
					fmt.Fprintf(out, "Result:    %s (%d rows)\n", ds.ResultLocation, ds.RowCount)
				}
				if ds.SoftwareVersion != "" {
					fmt.Fprintf(out, "Version:   %s\n", ds.SoftwareVersion)
				}
				fmt.Fprintf(out, "Created:   %s\n", formatTime(ds.CreatedAt))
				fmt.Fprintf(out, "Updated:   %s\n", formatTime(ds.UpdatedAt))
				if !ds.FinishedAt.IsZero() {
					fmt.Fprintf(out, "Finished:  %s\n", formatTime(ds.FinishedAt))
				}
				if len(ds.Parameters) > 0 {
					fmt.Fprintln(out, "Parameters:")
					keys := make([]string, 0, len(ds.Parameters))
					for key := range ds.Parameters {
						keys = append(keys, key)
					}
					sort.Strings(keys)
					for _, key := range keys {
						fmt.Fprintf(out, "  %s = %v\n", key, ds.Parameters[key])
					}
				}
				if len(children) > 0 {
					fmt.Fprintln(out, "Children:")
					for _, child := range children {
						fmt.Fprintf(out, "  %s  %-20s %s\n", child.Key, child.Type, datasetStatusLabel(child.Status, colorize))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
