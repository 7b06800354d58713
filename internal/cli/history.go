package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type HistoryOptions struct {
	*RootOptions
	Tenant string
	Limit  int
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <roleSectionId>",
		Short: "List recorded revisions of a role section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := operator(opts.Tenant)
			if err != nil {
				return err
			}
			service, done, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			commits, err := service.SectionHistory(cmd.Context(), actor, args[0], opts.Limit)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), map[string]any{"commits": commits})
			}
			if len(commits) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No history for role section: %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, commit := range commits {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", commit.ShortHash, commit.CreatedAt.Format("2006-01-02 15:04"), commit.Author, commit.Message)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "family id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum revisions to list")

	return cmd
}
