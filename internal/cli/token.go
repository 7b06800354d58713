package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scottring/ParentPulse-sub002/internal/config"
	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/identity"
)

type TokenOptions struct {
	*RootOptions
	Actor  string
	Name   string
	Tenant string
	TTL    time.Duration
}

// NewTokenCommand issues a bearer token signed with IDENTITY_SECRET.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a family member",
		Long: `Issue a signed access token for the API.

Examples:
  manualctl token --actor u_alice --name Alice --tenant fam_1
  manualctl token --actor u_alice --tenant fam_1 --ttl 1h --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			actor := domain.ActorContext{ActorID: opts.Actor, ActorName: opts.Name, TenantID: opts.Tenant}
			if actor.ActorName == "" {
				actor.ActorName = actor.ActorID
			}
			if err := actor.Validate(); err != nil {
				return err
			}
			token, err := identity.Issue([]byte(cfg.IdentitySecret), actor, opts.TTL)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), map[string]any{
					"token":     token,
					"expiresAt": time.Now().Add(opts.TTL).UTC(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor id (required)")
	_ = cmd.MarkFlagRequired("actor")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "family id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name recorded in history")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
