package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/internal/diff"
	"github.com/saraphina-project/selfmod/pkg/color"
)

var showDiff bool

var showCmd = &cobra.Command{
	Use:   "show <patch-id>",
	Short: "Show a proposal's details",
	Long: `Show a proposal's classification, status, and optionally the
line-level changes it makes.

Examples:
  selfmod show 4f1c09d2-...
  selfmod show 4f1c09d2-... --diff`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		prop, err := ctrl.Get(ctx, args[0])
		if err != nil {
			fmtErr("show: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(prop)
			return
		}

		fmt.Printf("%s %s\n", color.Header("Proposal"), color.PatchID(prop.Patch.ID))
		fmt.Printf("  File:    %s\n", prop.Patch.FilePath)
		fmt.Printf("  Status:  %s\n", prop.Patch.Status)
		fmt.Printf("  Tier:    %s (score %.0f)\n", color.Tier(string(prop.Classification.Tier)), prop.Classification.Score)
		fmt.Printf("  Created: %s\n", prop.Patch.CreatedAt.UTC().Format(time.RFC3339))
		if prop.Patch.Rationale != "" {
			fmt.Printf("  Rationale: %s\n", prop.Patch.Rationale)
		}
		for _, reason := range prop.Classification.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
		if len(prop.Classification.DeletedSymbols) > 0 {
			fmt.Printf("  Deleted symbols:\n")
			for _, sym := range prop.Classification.DeletedSymbols {
				fmt.Printf("    - %s\n", color.Warning(sym))
			}
		}

		if showDiff {
			result := diff.Lines(prop.Patch.OriginalContent, prop.Patch.ModifiedContent)
			fmt.Println()
			for _, line := range result.Removed {
				fmt.Println(color.Error("- " + line))
			}
			for _, line := range result.Added {
				fmt.Println(color.Success("+ " + line))
			}
		}
	},
}

func init() {
	showCmd.Flags().BoolVar(&showDiff, "diff", false, "show added and removed lines")
	rootCmd.AddCommand(showCmd)
}
