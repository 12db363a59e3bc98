package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	profileAccount string
	profileID      string
	profileLimited bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage viewer profiles",
	Long:  `Register viewer profiles and the accounts that own them.`,
}

var profileAddCmd = &cobra.Command{
	Use:   "add [flags] NAME",
	Short: "Register or update a profile",
	Example: `  screentime profile add --account acct-1 --limited Mia
  screentime profile add --account acct-1 --id 3f2c... Dad`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileAdd,
}

var profileListCmd = &cobra.Command{
	Use:   "list [flags]",
	Short: "List the profiles of an account",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

func init() {
	profileAddCmd.Flags().StringVar(&profileAccount, "account", "", "Owning account ID (required)")
	profileAddCmd.Flags().StringVar(&profileID, "id", "", "Profile ID (generated when empty)")
	profileAddCmd.Flags().BoolVar(&profileLimited, "limited", false, "Subject the profile to daily limits")
	_ = profileAddCmd.MarkFlagRequired("account")

	profileListCmd.Flags().StringVar(&profileAccount, "account", "", "Owning account ID (required)")
	_ = profileListCmd.MarkFlagRequired("account")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileListCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, store, _, err := openService(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	id := profileID
	if id == "" {
		id = uuid.NewString()
	}

	profile := storage.Profile{
		ID:        id,
		AccountID: profileAccount,
		Name:      args[0],
		Limited:   profileLimited,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Profiles().Upsert(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	fmt.Printf("✅ Profile %s (%s) saved for account %s\n", profile.Name, profile.ID, profile.AccountID)
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, store, _, err := openService(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	profiles, err := store.Profiles().ListByAccount(ctx, profileAccount)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	if len(profiles) == 0 {
		fmt.Printf("No profiles for account %s\n", profileAccount)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLIMITED\tCREATED")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.ID, p.Name, p.Limited, p.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
