package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type WorkbookOptions struct {
	*RootOptions
	Tenant string
	Output string
}

func NewExportSheetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkbookOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export-sheet <workbookId>",
		Short: "Write a weekly workbook as an .xlsx file",
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

			result, err := service.ExportWorkbookSheet(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			path := opts.Output
			if path == "" {
				path = result.Filename
			}
			if err := os.WriteFile(path, result.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			if opts.Format == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), map[string]any{"path": path, "bytes": len(result.Data)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(result.Data))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "family id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (defaults to the export filename)")

	return cmd
}

func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkbookOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive <workbookId>",
		Short: "Store a completed workbook in the archive bucket",
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

			key, err := service.ArchiveWorkbook(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), map[string]any{"key": key})
			}
			if key == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "archive is not configured; nothing stored")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", key)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "family id (required)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
