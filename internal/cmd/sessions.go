package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/platform"
	"github.com/warden-project/warden/internal/ui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List interactive login sessions",
	Long: `List the interactive login sessions warden can currently see,
with the eligibility marker used by the supervision loop.`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

// eligible mirrors the supervisor's desired-set rule: a session with a
// user in a live connection state gets a worker.
func eligible(s platform.SessionInfo) bool {
	switch s.State {
	case platform.StateActive, platform.StateConnected, platform.StateDisconnected:
		return s.User != ""
	}
	return false
}

func runSessions(cmd *cobra.Command, args []string) error {
	sessions := platform.NewLogind()

	infos, err := sessions.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating sessions: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println(ui.RenderMuted("No interactive sessions found"))
		return nil
	}

	consoleID, hasConsole := sessions.ConsoleSessionID()

	fmt.Printf("%-8s %-16s %-14s %-8s %s\n", "ID", "USER", "STATE", "CONSOLE", "ELIGIBLE")
	for _, s := range infos {
		console := ""
		if s.Console || (hasConsole && s.ID == consoleID) {
			console = "yes"
		}
		marker := ui.RenderMuted("-")
		if eligible(s) {
			marker = ui.RenderPassIcon()
		}
		fmt.Printf("%-8d %-16s %-14s %-8s %s\n", s.ID, s.User, s.State, console, marker)
	}
	return nil
}
