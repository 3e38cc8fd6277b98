package cli

import (
	"fmt"
	"time"

	"codeclash-score-service/internal/auth"
	"codeclash-score-service/internal/config"
	"github.com/spf13/cobra"
)

// NewTokenCmd mints a signed token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		name    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for a student or teacher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret not configured")
			}
			issuer := auth.NewIssuer(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, err := issuer.Issue(subject, auth.Role(role), name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "student or teacher id")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleStudent), "student or teacher")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
