package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowpledge/internal/auth"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one batch sync of every linked account and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		a, err := newApp(cmd.Context(), loadConfig(logger), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		processed, err := a.syncWorker.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sync complete. Processed %d users.\n", processed)
		return nil
	},
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the campaign leaderboard as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		a, err := newApp(cmd.Context(), loadConfig(logger), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		lb, err := a.leaderboard.Compute(cmd.Context(), a.window)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(lb)
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin bearer token for the /api/admin endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(newLogger())
		if cfg.Admin.JWTSecret == "" {
			return errors.New("admin.jwt_secret is not configured")
		}
		signed, err := auth.Issue(auth.FromAdminConfig(&cfg.Admin), tokenSubject, []string{auth.ScopeAdmin}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
