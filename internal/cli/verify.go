package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saraphina-project/selfmod/pkg/color"
)

var verifyBackups bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit trail integrity",
	Long: `Verify audit trail integrity.

Recomputes every record hash and checks each prev_hash link in the
chain. With --backups, also checks that every backup file recorded by a
successful apply still exists.

Exits non-zero if tampering is detected.

Examples:
  selfmod verify            # Chain only
  selfmod verify --backups  # Chain plus backup inventory`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		ctrl := requireController(ctx)
		defer ctrl.Close()

		verifier := ctrl.Verifier()

		chain, err := verifier.VerifyChain(ctx)
		if err != nil {
			fmtErr("verify: %v", err)
			os.Exit(1)
		}

		tampered := chain.TamperDetected
		out := map[string]any{"chain": chain}

		if verifyBackups {
			backups, err := verifier.VerifyBackups(ctx)
			if err != nil {
				fmtErr("verify backups: %v", err)
				os.Exit(1)
			}
			out["backups"] = backups
			for _, res := range backups {
				if res.TamperDetected {
					tampered = true
				}
			}
			if !jsonOutput {
				for _, res := range backups {
					status := color.Success("OK")
					if res.TamperDetected {
						status = color.Error("MISSING")
					} else if !res.Present {
						status = color.Warning(res.Error)
					}
					fmt.Printf("backup  %s  %s\n", res.BackupPath, status)
				}
			}
		}

		if jsonOutput {
			outputJSON(out)
		} else {
			if chain.ChainValid {
				fmt.Printf("chain   %d records  %s\n", chain.RecordCount, color.Success("OK"))
			} else {
				fmt.Printf("chain   %s: %s\n", color.Error("TAMPERED"), chain.Error)
			}
		}

		if tampered {
			os.Exit(1)
		}
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyBackups, "backups", false, "also verify recorded backup files exist")
	rootCmd.AddCommand(verifyCmd)
}
