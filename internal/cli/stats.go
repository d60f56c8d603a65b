package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/pkg/color"
	"github.com/saraphina-project/selfmod/pkg/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit trail statistics",
	Long: `Show audit trail statistics.

All numbers are aggregated from the stored records on each invocation;
there are no separately-maintained counters to drift.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		stats, err := ctrl.Stats(ctx)
		if err != nil {
			fmtErr("stats: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(stats)
			return
		}

		fmt.Printf("%s\n", color.Header("Audit trail statistics"))
		fmt.Printf("  Records:      %d\n", stats.Total)
		fmt.Printf("  Success rate: %.1f%% of apply attempts\n", stats.SuccessRate*100)

		if len(stats.CountsByTier) > 0 {
			fmt.Printf("  By tier:\n")
			for _, tier := range []model.Tier{model.TierSafe, model.TierCaution, model.TierSensitive, model.TierCritical} {
				if n, ok := stats.CountsByTier[tier]; ok {
					fmt.Printf("    %-10s %d\n", color.Tier(string(tier)), n)
				}
			}
		}

		if len(stats.CountsByAction) > 0 {
			fmt.Printf("  By action:\n")
			for _, action := range []model.AuditAction{
				model.ActionPropose, model.ActionApprove, model.ActionDeny,
				model.ActionApply, model.ActionApplyFailure, model.ActionRollback,
			} {
				if n, ok := stats.CountsByAction[action]; ok {
					fmt.Printf("    %-14s %d\n", action, n)
				}
			}
		}

		if len(stats.MostModifiedFiles) > 0 {
			fmt.Printf("  Most modified files:\n")
			for _, fc := range stats.MostModifiedFiles {
				fmt.Printf("    %4d  %s\n", fc.Count, fc.FilePath)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
