package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/pkg/color"
)

var applyPhrase string

var applyCmd = &cobra.Command{
	Use:   "apply <patch-id>",
	Short: "Apply a pending proposal",
	Long: `Apply a pending proposal.

SAFE-tier proposals apply immediately. Higher tiers require the exact
acknowledgment phrase for their tier via --phrase; an insufficient
phrase leaves the proposal pending and prints what is required.

The target is backed up before writing, the write is atomic, and the
new content is structurally validated. Any validation failure restores
the backup automatically.

Examples:
  selfmod apply 4f1c09d2-...
  selfmod apply 4f1c09d2-... --phrase "I approve this sensitive change and accept the risk"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		outcome, err := ctrl.Apply(ctx, args[0], applyPhrase)
		if err != nil {
			if outcome != nil && outcome.RolledBack {
				fmtErr("apply failed, change rolled back: %v", err)
			} else {
				fmtErr("apply: %v", err)
			}
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(outcome)
			if outcome.ApprovalRequired {
				os.Exit(2)
			}
			return
		}

		if outcome.ApprovalRequired {
			fmt.Printf("%s approval required for this %s change.\n",
				color.Warning("Not applied:"), color.Tier(string(outcome.Tier)))
			if len(outcome.Reasons) > 0 {
				fmt.Printf("  Flagged because:\n")
				for _, reason := range outcome.Reasons {
					fmt.Printf("    - %s\n", reason)
				}
			}
			fmt.Printf("  Required phrase: %s\n", color.Highlight(outcome.RequiredPhrase))
			os.Exit(2)
		}

		fmt.Printf("%s patch %s\n", color.Success("Applied"), color.PatchID(args[0]))
		fmt.Printf("  New hash: %s\n", color.Dim(string(outcome.NewHash)))
		fmt.Printf("  Backup:   %s\n", color.Dim(outcome.Backup))
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyPhrase, "phrase", "", "owner acknowledgment phrase for the proposal's tier")
	rootCmd.AddCommand(applyCmd)
}
