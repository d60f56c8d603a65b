package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/internal/workspace"
	"github.com/saraphina-project/selfmod/pkg/color"
)

var initCmd = &cobra.Command{
	Use:   "init [<path>]",
	Short: "Initialize a selfmod workspace",
	Long: `Initialize a selfmod workspace in <path> (default: current directory).

This creates:
  - .selfmod/ directory with default config.yaml
  - .selfmod/backups/ for pre-apply file snapshots
  - .selfmod/locks/ for per-file apply leases
The audit store is created on first use.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmtErr("cannot get current directory: %v", err)
			os.Exit(1)
		}
		root := cwd
		if len(args) == 1 {
			if filepath.IsAbs(args[0]) {
				root = args[0]
			} else {
				root = filepath.Join(cwd, args[0])
			}
		}

		ws, err := workspace.Init(root)
		if err != nil {
			fmtErr("failed to initialize workspace: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"root":           ws.Root,
				"format_version": ws.FormatVersion,
				"workspace_id":   ws.WorkspaceID,
			})
		} else {
			fmt.Printf("Initialized selfmod workspace in %s\n", color.Success(ws.Root))
			fmt.Printf("  Config: %s\n", color.Highlight(filepath.Join(ws.Root, ".selfmod", "config.yaml")))
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
