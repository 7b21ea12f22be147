// Package cli provides the command-line interface for arbor.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arbormd/arbor/config"
	"github.com/arbormd/arbor/internal/util"
	"github.com/arbormd/arbor/osfs"
	"github.com/arbormd/arbor/session"
	"github.com/arbormd/arbor/storage"
	"github.com/arbormd/arbor/tree"
)

var (
	// Global flags
	cfgFile   string
	storePath string
	logLevel  string
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbor",
		Short: "Local-first workspace tool for markdown notes",
		Long: `Arbor manages a workspace of markdown documents on the local
filesystem: selecting and restoring the workspace root, browsing and
mutating the file tree, and importing image assets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitializeLogger(logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Workspace record path (default: per-user config dir)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newSelectCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newTreeCmd())
	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newPreviewCmd())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.NewFromFile(cfgFile)
	}
	override, err := config.LoadEnvOverride()
	if err != nil {
		return nil, err
	}
	return config.New(override), nil
}

func handleStore() (*session.HandleStore, error) {
	path := storePath
	if path == "" {
		var err error
		path, err = session.DefaultStorePath()
		if err != nil {
			return nil, err
		}
	}
	return session.NewHandleStore(path), nil
}

func newManager(pickPath string) (*session.Manager, error) {
	store, err := handleStore()
	if err != nil {
		return nil, err
	}
	return session.NewManager(store, osfs.StaticPicker{Path: pickPath}, osfs.Resolver{}), nil
}

// requireService restores the persisted workspace and wraps it in a
// storage service. Fails with guidance when no workspace is usable.
func requireService(ctx context.Context) (*storage.Service, error) {
	mgr, err := newManager("")
	if err != nil {
		return nil, err
	}
	name, err := mgr.LoadWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if mgr.NeedsPermissionGrant() {
			return nil, fmt.Errorf("workspace %q is not accessible; check its permissions", mgr.WorkspacePath())
		}
		return nil, fmt.Errorf("no workspace selected; run 'arbor select <path>' first")
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.New(mgr.Handle(), cfg), nil
}

// requireStore builds a tree store over the workspace with an inline
// scheduler, so mutations complete before the command returns.
func requireStore(ctx context.Context) (*tree.Store, error) {
	svc, err := requireService(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st := tree.NewStore(svc, cfg, tree.WithScheduler(func(fn func()) { fn() }))
	if err := st.Load(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// mutationOutcome reads the already-queued outcome event of an inline
// mutation and returns its error.
func mutationOutcome(st *tree.Store) error {
	select {
	case ev := <-st.Events():
		return ev.Err
	default:
		return nil
	}
}
