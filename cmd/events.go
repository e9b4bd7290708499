package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/crosstask/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded session events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded events in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := queryOpts(session, typ, limit)
		if since > 0 {
			opts.From = time.Now().Add(-since)
		}
		events, err := s.EventRepo().QueryEvents(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		fmt.Printf("%-6s  %-23s  %-10s  %-12s  %-8s  %-22s  %-5s  %s\n",
			"ID", "At", "Session", "Participant", "Mode", "Type", "Task", "Payload")
		fmt.Println(strings.Repeat("─", 110))
		for _, e := range events {
			fmt.Printf("%-6d  %-23s  %-10s  %-12s  %-8s  %-22s  %-5s  %s\n",
				e.ID,
				e.At.Local().Format("2006-01-02 15:04:05.000"),
				truncate(e.SessionID, 10),
				truncate(e.Participant, 12),
				e.Mode,
				e.Type,
				e.Task,
				string(e.Payload),
			)
		}
		return nil
	},
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count events per type",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")

		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		counts, err := s.EventRepo().CountByType(cmd.Context(), queryOpts(session, "", 0))
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		if len(counts) == 0 {
			fmt.Println("No events recorded yet.")
			return nil
		}

		var total int64
		fmt.Printf("%-28s  %8s\n", "Type", "Count")
		fmt.Println(strings.Repeat("─", 38))
		for _, c := range counts {
			fmt.Printf("%-28s  %8d\n", c.Type, c.Count)
			total += c.Count
		}
		fmt.Println(strings.Repeat("─", 38))
		fmt.Printf("%-28s  %8d\n", "TOTAL", total)
		return nil
	},
}

func queryOpts(session, typ string, limit int) store.QueryOpts {
	return store.QueryOpts{SessionID: session, Type: typ, Limit: limit}
}

func init() {
	eventsListCmd.Flags().StringP("session", "s", "", "Only events of this session")
	eventsListCmd.Flags().StringP("type", "t", "", "Only events of this type (e.g. task.completed)")
	eventsListCmd.Flags().IntP("limit", "n", 50, "Number of events to show (0 = all)")
	eventsListCmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 2h)")
	eventsStatsCmd.Flags().StringP("session", "s", "", "Only events of this session")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsStatsCmd)
}
