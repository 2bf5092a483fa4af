package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gemini-chatter/internal/analytics"
	"gemini-chatter/internal/app"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the recorded interaction log",
	Long: `Reads the durable interaction log (LOG_FILE_PATH, or Redis when REDIS_ADDR
is set and reachable) and prints call, failure and token totals.

Examples:
  chatter stats
  chatter stats --date 2024-06-01
  chatter stats --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().String("date", "", "only count one day (YYYY-MM-DD, local time)")
	statsCmd.Flags().Bool("json", false, "print JSON instead of a summary")
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), cfg, app.SharedSettings)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Recorder == nil {
		return fmt.Errorf("no interaction log configured (set LOG_FILE_PATH or REDIS_ADDR)")
	}
	entries, err := a.Recorder.LoadInteractions(cmd.Context())
	if err != nil {
		return err
	}

	var stats *analytics.Stats
	if day, _ := cmd.Flags().GetString("date"); day != "" {
		d, err := time.ParseInLocation("2006-01-02", day, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		stats = analytics.AnalyzeDailyLogs(entries, d)
	} else {
		stats = analytics.Analyze(entries)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := stats.ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
		return nil
	}
	fmt.Fprint(out, stats.GenerateReportSummary())
	return nil
}
