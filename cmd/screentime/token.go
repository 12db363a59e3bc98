package main

import (
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/api"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/spf13/cobra"
)

var (
	tokenAccount string
	tokenProfile string
	tokenPIN     bool
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue [flags]",
	Short: "Issue a signed API token",
	Long: `Issue an HS256 token signed with auth.jwt_secret. A token with --profile is
bound to that profile and cannot act as a guardian.`,
	Example: `  screentime token issue --account acct-1
  screentime token issue --account acct-1 --profile 3f2c9a1e-... --ttl 720h
  screentime token issue --account acct-1 --pin --ttl 10m`,
	Args: cobra.NoArgs,
	RunE: runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenAccount, "account", "", "Account ID (required)")
	tokenIssueCmd.Flags().StringVar(&tokenProfile, "profile", "", "Bind the token to one profile")
	tokenIssueCmd.Flags().BoolVar(&tokenPIN, "pin", false, "Mark the PIN as verified now")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", api.DefaultTokenTTL, "Token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("account")

	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	now := time.Now().UTC()
	caller := usage.Caller{AccountID: tokenAccount, ProfileID: tokenProfile}
	if tokenPIN {
		caller.PINVerifiedAt = now
	}

	token, err := api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(caller, tokenTTL, now)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}
