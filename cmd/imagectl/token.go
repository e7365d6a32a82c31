package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hussain-mohammed/kirana-store/pkg/config"
	"github.com/hussain-mohammed/kirana-store/pkg/jwt"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the bake endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := config.LoadServiceConfig().AuthSecret
			if strings.TrimSpace(secret) == "" {
				return fmt.Errorf("IMAGECTL_JWT_SECRET must be set")
			}
			for _, s := range scopes {
				if s != jwt.ScopeRead && s != jwt.ScopeWrite {
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			token, err := jwt.GenerateToken(subject, scopes, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ci", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{jwt.ScopeWrite}, "granted scopes (read, write)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
