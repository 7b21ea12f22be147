package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arbormd/arbor"
	"github.com/arbormd/arbor/tree"
)

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a workspace folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := requireService(cmd.Context())
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			var nodes []*arbor.FileNode
			remaining := 0
			if limit > 0 {
				page, err := svc.ListPage(cmd.Context(), path, offset, limit)
				if err != nil {
					return err
				}
				nodes = page.Nodes
				if page.HasMore {
					remaining = page.TotalCount - offset - len(page.Nodes)
				}
			} else {
				nodes, err = svc.List(cmd.Context(), path)
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, n := range nodes {
				if n.IsFile {
					fmt.Fprintln(out, n.Name)
				} else {
					fmt.Fprintln(out, n.Name+"/")
				}
			}
			if remaining > 0 {
				fmt.Fprintf(out, "... %d more\n", remaining)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip the first N entries (with --limit)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most N entries (0 = all)")
	return cmd
}

// newTreeCmd creates the 'tree' command.
func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the workspace tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := requireStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := expandAll(cmd.Context(), st); err != nil {
				return err
			}
			for _, e := range st.Flatten(nil, "") {
				name := e.Node.Name
				if !e.Node.IsFile {
					name += "/"
				}
				fmt.Printf("%s%s\n", strings.Repeat("  ", e.Depth), name)
			}
			return nil
		},
	}
}

// newNewCmd creates the 'new' command.
func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <path>",
		Short: "Create a document (extensionless names get .md)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), args[0], true)
		},
	}
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), args[0], false)
		},
	}
}

// newMvCmd creates the 'mv' command.
func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <new-name>",
		Short: "Rename an entry in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := arbor.NormalizePath(args[0])
			if err != nil {
				return err
			}
			st, err := requireStore(ctx)
			if err != nil {
				return err
			}
			if err := ensureVisible(ctx, st, arbor.ParentPath(path)); err != nil {
				return err
			}
			if _, err := st.RenameNode(path, args[1]); err != nil {
				return err
			}
			return mutationOutcome(st)
		},
	}
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var undoDemo bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := arbor.NormalizePath(args[0])
			if err != nil {
				return err
			}
			st, err := requireStore(ctx)
			if err != nil {
				return err
			}
			if err := ensureVisible(ctx, st, arbor.ParentPath(path)); err != nil {
				return err
			}
			if _, err := st.DeleteNode(path); err != nil {
				return err
			}
			if err := mutationOutcome(st); err != nil {
				return err
			}
			if !undoDemo {
				return nil
			}
			return runUndoDemo(cmd, st)
		},
	}
	cmd.Flags().BoolVar(&undoDemo, "undo-demo", false, "Hold the process open for the undo window; press Enter to restore")
	return cmd
}

// runUndoDemo keeps the process alive for the undo window after a
// committed delete and restores the entry if the user confirms in time.
// Closed stdin counts as declining.
func runUndoDemo(cmd *cobra.Command, st *tree.Store) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "deleted; press Enter within %s to undo\n", cfg.UndoWindow)

	confirmed := make(chan bool, 1)
	go func() {
		_, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		confirmed <- err == nil
	}()

	select {
	case ok := <-confirmed:
		if !ok {
			fmt.Fprintln(out, "kept deleted")
			return nil
		}
		if err := st.Undo(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(out, "restored")
		return nil
	case <-time.After(cfg.UndoWindow):
		fmt.Fprintln(out, "undo window expired; kept deleted")
		return nil
	}
}

// newImportCmd creates the 'import' command.
func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <image-file>",
		Short: "Import an image into the workspace asset area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			svc, err := requireService(cmd.Context())
			if err != nil {
				return err
			}
			path, err := svc.IngestImage(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

// newPreviewCmd creates the 'preview' command.
func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <doc-path> <ref>",
		Short: "Resolve a document reference to a previewable URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := requireService(cmd.Context())
			if err != nil {
				return err
			}
			url, err := svc.ResolvePreview(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
}

func runCreate(ctx context.Context, path string, isFile bool) error {
	path, err := arbor.NormalizePath(path)
	if err != nil {
		return err
	}
	st, err := requireStore(ctx)
	if err != nil {
		return err
	}
	parent := arbor.ParentPath(path)
	if err := ensureVisible(ctx, st, parent); err != nil {
		return err
	}
	var opErr error
	if isFile {
		_, opErr = st.CreateFile(parent, arbor.BaseName(path))
	} else {
		_, opErr = st.CreateFolder(parent, arbor.BaseName(path))
	}
	if opErr != nil {
		return opErr
	}
	return mutationOutcome(st)
}

// ensureVisible loads and expands every folder on the way to path so
// the tree store can address nodes under it.
func ensureVisible(ctx context.Context, st *tree.Store, path string) error {
	if path == "" {
		return nil
	}
	cur := ""
	for _, seg := range strings.Split(path, "/") {
		cur = arbor.JoinPath(cur, seg)
		if st.IsExpanded(cur) {
			continue
		}
		if err := st.ToggleFolder(ctx, cur); err != nil {
			return err
		}
	}
	return nil
}

// expandAll expands every reachable folder, loading children as it
// goes, until the projection is stable.
func expandAll(ctx context.Context, st *tree.Store) error {
	for {
		progress := false
		for _, e := range st.Flatten(nil, "") {
			if e.Node == nil || e.Node.IsFile || e.Expanded {
				continue
			}
			if err := st.ToggleFolder(ctx, e.Node.Path); err != nil {
				return err
			}
			progress = true
		}
		if !progress {
			return nil
		}
	}
}
