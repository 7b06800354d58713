package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/app"
	"github.com/scottring/ParentPulse-sub002/internal/config"
	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"
	Verbose    bool
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the manualctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "manualctl",
		Short: "Operate a household manual deployment",
		Long:  "Maintenance commands for the household manual store: migrations, tokens, history, exports and archives.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.ConfigFile != "" {
				return os.Setenv("MANUAL_CONFIG_FILE", opts.ConfigFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file (overrides MANUAL_CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewExportSheetCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) logger() (*zap.Logger, error) {
	if !o.Verbose {
		return zap.NewNop(), nil
	}
	return logging.New("debug", "console", "manualctl")
}

// service loads configuration and bootstraps the application. The returned
// func must be called when the command is done.
func (o *RootOptions) service(ctx context.Context) (*app.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	service, cleanup, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return service, func() {
		cleanup()
		_ = logger.Sync()
	}, nil
}

func (o *RootOptions) writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func operator(tenant string) (domain.ActorContext, error) {
	if strings.TrimSpace(tenant) == "" {
		return domain.ActorContext{}, fmt.Errorf("--tenant is required")
	}
	return domain.ActorContext{ActorID: "manualctl", ActorName: "manualctl", TenantID: tenant}, nil
}
