package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/pkg/color"
)

var denyCmd = &cobra.Command{
	Use:   "deny <patch-id>",
	Short: "Deny a pending proposal",
	Long: `Deny a pending proposal.

Denial is terminal: the proposal can never be applied afterwards, and
the target file is never touched. The denial is recorded in the audit
trail.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		if err := ctrl.Deny(ctx, args[0]); err != nil {
			fmtErr("deny: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{"patch_id": args[0], "status": "denied"})
			return
		}
		fmt.Printf("%s patch %s\n", color.Error("Denied"), color.PatchID(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(denyCmd)
}
