package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskflow/helpdesk-engine/internal/auth"
	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/internal/domain"
)

func newTokenCmd() *cobra.Command {
	var (
		agent domain.Principal
		team  string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an agent bearer token signed with AUTH_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent.ID == "" {
				return errors.New("--id is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if team != "" {
				agent.Team = &team
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, expires, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).GenerateToken(agent)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&agent.ID, "id", "", "agent id")
	cmd.Flags().StringVar(&agent.Name, "name", "", "agent display name")
	cmd.Flags().StringVar(&agent.Email, "email", "", "agent email")
	cmd.Flags().StringVar(&team, "team", "", "agent team")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to AUTH_TOKEN_TTL)")
	return cmd
}
