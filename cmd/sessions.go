package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved session snapshots",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently saved first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		list, err := s.SnapshotRepo().Sessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No sessions recorded yet.")
			return nil
		}

		fmt.Printf("%-36s  %-14s  %-16s  %-8s  %-19s  %s\n",
			"Session", "Participant", "Phase", "Finished", "Last saved", "Snapshots")
		fmt.Println(strings.Repeat("─", 112))
		for _, ss := range list {
			finished := ""
			if ss.Finished {
				finished = "✓"
			}
			fmt.Printf("%-36s  %-14s  %-16s  %-8s  %-19s  %d\n",
				ss.SessionID,
				truncate(ss.Participant, 14),
				ss.Phase,
				finished,
				ss.LastSaved.Local().Format("2006-01-02 15:04:05"),
				ss.Snapshots,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the latest snapshot of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		snap, err := s.SnapshotRepo().Latest(ctx, args[0])
		if err != nil {
			return err
		}
		counts, err := s.EventRepo().CountByType(ctx, queryOpts(args[0], "", 0))
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		var events int64
		for _, c := range counts {
			events += c.Count
		}

		fmt.Printf("Session:     %s\n", snap.SessionID)
		fmt.Printf("Participant: %s\n", snap.Participant)
		fmt.Printf("Phase:       %s\n", snap.Phase)
		fmt.Printf("Finished:    %v\n", snap.Finished)
		fmt.Printf("Saved:       %s\n", snap.SavedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Events:      %d\n", events)
		fmt.Println()

		var buf bytes.Buffer
		if err := json.Indent(&buf, snap.Data, "", "  "); err != nil {
			fmt.Println(string(snap.Data))
			return nil
		}
		fmt.Println(buf.String())
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().IntP("limit", "n", 20, "Number of sessions to show (0 = all)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}
