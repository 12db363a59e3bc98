package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/screentime/internal/report"
	"github.com/spf13/cobra"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build viewing reports",
}

var reportWeeklyCmd = &cobra.Command{
	Use:     "weekly [flags] ACCOUNT",
	Short:   "Show the trailing week of every limited profile in an account",
	Example: `  screentime report weekly --json acct-1`,
	Args:    cobra.ExactArgs(1),
	RunE:    runReportWeekly,
}

func init() {
	reportWeeklyCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")

	reportCmd.AddCommand(reportWeeklyCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportWeekly(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reporter := report.New(svc.Directory, svc.Configs, store.Sessions(), nil, report.Options{
		MaxSessions: cfg.Enforcement.HistoryMaxSessions,
		MaxDays:     cfg.Enforcement.HistoryMaxDays,
	}, quietLogger())

	weekly, err := reporter.Weekly(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to build weekly report: %w", err)
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(weekly)
	}

	printWeekly(weekly)
	return nil
}

func printWeekly(weekly *report.Weekly) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	if len(weekly.Profiles) == 0 {
		fmt.Printf("No limited profiles for account %s\n", weekly.AccountID)
		return
	}

	for _, p := range weekly.Profiles {
		fmt.Println()
		cyan.Printf("[%s] %s to %s\n", p.Name, p.From, p.To)
		for _, d := range p.Daily {
			fmt.Printf("  %s  %6.1f min\n", d.Day, d.Minutes)
		}
		fmt.Printf("  Total:       %.1f min\n", p.TotalMinutes)
		fmt.Printf("  Daily mean:  %.1f min\n", p.AverageDailyMinutes)
		fmt.Printf("  Educational: %.1f min\n", p.EducationalMinutes)
		if p.LimitUsagePercent != nil {
			yellow.Printf("  Limit used:  %.1f%%\n", *p.LimitUsagePercent)
		}
		for i, t := range p.TopTitles {
			fmt.Printf("  #%d %s (%.1f min)\n", i+1, t.TitleID, t.Minutes)
		}
	}
	fmt.Println()
}
