package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newSelectCmd creates the 'select' command.
func newSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <path>",
		Short: "Select a directory as the workspace root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			mgr, err := newManager(abs)
			if err != nil {
				return err
			}
			name, err := mgr.SelectWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("workspace: %s\n", name)
			return nil
		},
	}
}

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current workspace and its access state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newManager("")
			if err != nil {
				return err
			}
			name, err := mgr.LoadWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			switch {
			case name != "":
				fmt.Printf("workspace: %s (%s)\n", name, mgr.Handle().ID())
			case mgr.NeedsPermissionGrant():
				fmt.Printf("workspace: %s (permission needed)\n", mgr.WorkspacePath())
			default:
				fmt.Println("no workspace selected")
			}
			return nil
		},
	}
}

// newClearCmd creates the 'clear' command.
func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the selected workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newManager("")
			if err != nil {
				return err
			}
			return mgr.ClearWorkspace()
		},
	}
}
