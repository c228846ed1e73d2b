package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newProcessorsCommand(ctx *commandContext) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "processors",
		Short: "List registered processors",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.registry()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			out := cmd.OutOrStdout()

			rows := make([][]string, 0, len(reg.Types()))
			for _, desc := range reg.Descriptors() {
				timeout := desc.Timeout
				if timeout == 0 {
					timeout = cfg.JobTimeout()
				}
				timeoutText := "-"
				if timeout > 0 {
					timeoutText = timeout.String()
				}
				rows = append(rows, []string{
					desc.TypeID,
					label(desc.Category),
					strings.Join(desc.Accepts, ", "),
					desc.Produces,
					strconv.Itoa(desc.Concurrency),
					timeoutText,
					desc.Version,
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Type", "Category", "Accepts", "Produces", "Concurrency", "Timeout", "Version"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))

			if !verbose {
				return nil
			}
			for _, desc := range reg.Descriptors() {
				if len(desc.Options) == 0 {
					continue
				}
				fmt.Fprintf(out, "\n%s options:\n", desc.TypeID)
				names := make([]string, 0, len(desc.Options))
				for name := range desc.Options {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					spec := desc.Options[name]
					line := fmt.Sprintf("  %-12s %-7s %s", name, spec.Kind, spec.Help)
					if spec.Default != nil {
						line += fmt.Sprintf(" (default %v)", spec.Default)
					}
					if len(spec.Choices) > 0 {
						line += fmt.Sprintf(" [%s]", strings.Join(spec.Choices, "|"))
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also list processor options")
	return cmd
}
