package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/triage-service/internal/auth"
	"github.com/spec-kit/triage-service/internal/config"
)

var tokenFlags struct {
	subject string
	scopes  []string
	ttl     int
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the webhook or ops routes",
	Long:  "Signs a token with WEBHOOK_JWT_SECRET. Configure the ticketing platform's\nweb service invoker to send it as 'Authorization: Bearer <token>'.",
	RunE:  runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.subject, "subject", "znuny", "Caller identity recorded in the token")
	f.StringSliceVar(&tokenFlags.scopes, "scope", []string{string(auth.ScopeWebhook)}, "Granted scopes (webhook, ops)")
	f.IntVar(&tokenFlags.ttl, "ttl-minutes", 0, "Token lifetime; defaults to WEBHOOK_TOKEN_TTL_MINUTES")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	scopes, err := parseScopes(tokenFlags.scopes)
	if err != nil {
		return err
	}
	ttl := cfg.Auth.TokenTTLMinutes
	if tokenFlags.ttl > 0 {
		ttl = tokenFlags.ttl
	}

	token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).GenerateToken(tokenFlags.subject, scopes...)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func parseScopes(raw []string) ([]auth.Scope, error) {
	scopes := make([]auth.Scope, 0, len(raw))
	for _, s := range raw {
		switch scope := auth.Scope(strings.ToLower(strings.TrimSpace(s))); scope {
		case auth.ScopeWebhook, auth.ScopeOps:
			scopes = append(scopes, scope)
		default:
			return nil, fmt.Errorf("unknown scope %q", s)
		}
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	return scopes, nil
}
