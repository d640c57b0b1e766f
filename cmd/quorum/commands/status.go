package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List this project's live sessions",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deps, cleanup := buildDeps(cfg)
	defer cleanup()

	sessions, err := deps.Council.ListActive()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no live sessions")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  %-20q  %s  round %d/%d  next: %s\n",
			s.ID, s.Topic, s.Status, s.CurrentRound, s.MaxRounds, s.CurrentSpeaker)
	}
	return nil
}
