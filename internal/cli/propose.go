package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/pkg/color"
)

var (
	proposeFromFile  string
	proposeRationale string
)

var proposeCmd = &cobra.Command{
	Use:   "propose <file> --from <modified-file>",
	Short: "Propose a change to a workspace file",
	Long: `Propose a change to a workspace file.

The modified content is read from --from (or stdin with --from -). The
change is risk-classified and stored as a pending proposal; nothing is
written to the target until the proposal is applied.

Examples:
  selfmod propose core/handlers.py --from /tmp/handlers.py -m "tighten validation"
  cat new.py | selfmod propose core/handlers.py --from - -m "refactor"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		target := args[0]
		if !filepath.IsAbs(target) {
			cwd, _ := os.Getwd()
			target = filepath.Join(cwd, target)
		}

		var modified []byte
		var err error
		if proposeFromFile == "-" {
			modified, err = io.ReadAll(os.Stdin)
		} else {
			modified, err = os.ReadFile(proposeFromFile)
		}
		if err != nil {
			fmtErr("read modified content: %v", err)
			os.Exit(1)
		}

		res, err := ctrl.Propose(ctx, target, string(modified), proposeRationale)
		if err != nil {
			fmtErr("propose: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(res)
			return
		}

		fmt.Printf("Proposal %s filed for %s\n", color.PatchID(res.Patch.ID), res.Patch.FilePath)
		fmt.Printf("  Tier:  %s (score %.0f)\n", color.Tier(string(res.Classification.Tier)), res.Classification.Score)
		if len(res.Classification.Reasons) > 0 {
			fmt.Printf("  Reasons:\n")
			for _, reason := range res.Classification.Reasons {
				fmt.Printf("    - %s\n", reason)
			}
		}
		if res.Classification.RequiresApproval {
			fmt.Printf("  Approval required. Apply with:\n")
			fmt.Printf("    %s\n", color.Dim(fmt.Sprintf(
				"selfmod apply %s --phrase %q", res.Patch.ID, res.Approval.RequiredPhrase)))
		} else {
			fmt.Printf("  Auto-approved (%s). Apply with:\n", color.Tier("safe"))
			fmt.Printf("    %s\n", color.Dim("selfmod apply "+res.Patch.ID))
		}
	},
}

func init() {
	proposeCmd.Flags().StringVar(&proposeFromFile, "from", "", "file containing the modified content (- for stdin)")
	proposeCmd.Flags().StringVarP(&proposeRationale, "message", "m", "", "rationale for the change")
	proposeCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(proposeCmd)
}

// truncate shortens s for single-line display.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
