package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetAll bool

var resetCmd = &cobra.Command{
	Use:   "reset [session-id]",
	Short: "Discard a live session, archiving any recorded turns",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Reset every live session in the project")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deps, cleanup := buildDeps(cfg)
	defer cleanup()

	ctx := cmd.Context()
	if resetAll {
		count, err := deps.Council.ResetAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("reset %d session(s)\n", count)
		return nil
	}

	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	session, err := deps.Council.Resolve(id)
	if err != nil {
		return err
	}

	archive, err := deps.Council.Reset(ctx, session.ID)
	if err != nil {
		return err
	}
	if archive != "" {
		fmt.Printf("reset %s (archived to %s)\n", session.ID, archive)
	} else {
		fmt.Printf("reset %s\n", session.ID)
	}
	return nil
}
