package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:     "balance PROFILE",
	Short:   "Show a profile's balance for the current viewing day",
	Example: `  screentime -c config.yaml balance 3f2c9a1e-...`,
	Args:    cobra.ExactArgs(1),
	RunE:    runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, store, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	view, err := svc.Ledger.Balance(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	printBalance(view)
	return nil
}

func printBalance(view *usage.BalanceView) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("VIEWING BALANCE")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Profile:     %s\n", view.ProfileID)
	if !view.IsChildProfile {
		green.Println("Not limited")
		fmt.Println()
		return
	}

	fmt.Printf("Day:         %s\n", view.Day)
	fmt.Printf("Used:        %.1f min\n", view.UsedMinutes)
	fmt.Printf("Educational: %.1f min\n", view.EducationalMinutes)
	if view.LimitMinutes != nil {
		fmt.Printf("Limit:       %d min\n", *view.LimitMinutes)
	} else {
		fmt.Printf("Limit:       (none)\n")
	}
	if view.DayStartedAt != nil {
		fmt.Printf("Day started: %s\n", view.DayStartedAt.Format(time.RFC3339))
	}
	if view.NextResetAt != nil {
		fmt.Printf("Next reset:  %s\n", view.NextResetAt.Format(time.RFC3339))
	}
	fmt.Println()

	cyan.Print("Status:      ")
	switch {
	case view.IsUnlimitedOverride:
		green.Println("UNLIMITED (granted for today)")
	case view.RemainingMinutes == nil:
		green.Println("UNLIMITED")
	default:
		remaining := *view.RemainingMinutes
		label := fmt.Sprintf("%.1f min remaining", remaining)
		switch usage.StatusFor(int64(remaining * 60)) {
		case usage.StatusBlocked:
			red.Println("BLOCKED")
		case usage.StatusWarning5, usage.StatusWarning15:
			yellow.Println(label)
		default:
			green.Println(label)
		}
	}
	fmt.Println()
}
