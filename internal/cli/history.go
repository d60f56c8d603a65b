package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/internal/audit"
	"github.com/saraphina-project/selfmod/pkg/color"
	"github.com/saraphina-project/selfmod/pkg/model"
)

var (
	historyLimit  int
	historyFile   string
	historyPatch  string
	historyTier   string
	historyAction string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit trail",
	Long: `Show the audit trail, oldest first.

Every propose, approval, denial, apply, failure, and rollback the
pipeline has ever performed appears here; records are append-only and
hash-chained.

Examples:
  selfmod history                     # Full trail
  selfmod history -n 20               # Last 20 records
  selfmod history --file core/app.py  # One file's history
  selfmod history --action apply      # Applies only
  selfmod history --tier critical     # Critical-tier records only`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		records, err := ctrl.History(ctx, audit.Filter{
			FilePath: historyFile,
			PatchID:  historyPatch,
			Tier:     model.Tier(historyTier),
			Action:   model.AuditAction(historyAction),
		})
		if err != nil {
			fmtErr("history: %v", err)
			os.Exit(1)
		}

		// Limit applies to the tail: the most recent records matter most.
		if historyLimit > 0 && len(records) > historyLimit {
			records = records[len(records)-historyLimit:]
		}

		if jsonOutput {
			if records == nil {
				outputJSON([]any{})
			} else {
				outputJSON(records)
			}
			return
		}

		if len(records) == 0 {
			fmt.Println("No audit records.")
			return
		}

		for _, rec := range records {
			status := color.Success("ok")
			if !rec.Success {
				status = color.Error("failed")
			}
			line := fmt.Sprintf("%s  %-13s  %-9s  %s  %s",
				color.Dim(rec.Timestamp.UTC().Format(time.RFC3339)),
				rec.Action,
				color.Tier(string(rec.Tier)),
				rec.FilePath,
				status)
			if rec.ErrorDetail != "" {
				line += "  " + color.Dim(truncate(rec.ErrorDetail, 60))
			}
			fmt.Println(line)
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "show only the last N records")
	historyCmd.Flags().StringVar(&historyFile, "file", "", "filter by target file path")
	historyCmd.Flags().StringVar(&historyPatch, "patch", "", "filter by patch id")
	historyCmd.Flags().StringVar(&historyTier, "tier", "", "filter by risk tier")
	historyCmd.Flags().StringVar(&historyAction, "action", "", "filter by action")
	rootCmd.AddCommand(historyCmd)
}
