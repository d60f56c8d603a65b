package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/pkg/color"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List unresolved proposals",
	Long: `List unresolved proposals, oldest first.

Each line shows the patch id, risk tier, target file, and rationale.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		proposals, err := ctrl.Pending(ctx)
		if err != nil {
			fmtErr("pending: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			if proposals == nil {
				outputJSON([]any{})
			} else {
				outputJSON(proposals)
			}
			return
		}

		if len(proposals) == 0 {
			fmt.Println("No pending proposals.")
			return
		}

		for _, prop := range proposals {
			fmt.Printf("%s  %-9s  %s  %s\n",
				color.PatchID(prop.Patch.ID),
				color.Tier(string(prop.Classification.Tier)),
				prop.Patch.FilePath,
				color.Dim(truncate(prop.Patch.Rationale, 48)))
		}
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}
