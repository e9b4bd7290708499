package cmd

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abhisek/crosstask/internal/app"
	"github.com/abhisek/crosstask/internal/store"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run one participant session in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetString("resume")
		return runPlay(cmd, resume)
	},
}

// runPlay hosts a single terminal session. Logs go to a file so they do
// not tear the alt screen.
func runPlay(cmd *cobra.Command, resumeID string) error {
	logFile := ""
	if dir, err := store.DataDir(); err == nil {
		logFile = filepath.Join(dir, "crosstask.log")
	}
	rt, err := startRuntime(cmd, logFile)
	if err != nil {
		return err
	}

	runErr := app.Run(cmd.Context(), app.Options{
		Sessions: rt.sessions,
		Logger:   rt.log.Logger,
		ResumeID: resumeID,
	})
	return errors.Join(runErr, rt.stop())
}

func init() {
	playCmd.Flags().String("resume", "", "Resume the unfinished session with this id")
}
