package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/blueprint/pkg/kernel/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	return reportVerify(result)
}

func reportVerify(result *trace.VerifyResult) error {
	if !result.Valid {
		fmt.Printf("✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Printf("  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Printf("✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	if result.Complete {
		fmt.Printf("✓ Run complete, chain hash %s\n", result.ChainHash)
	} else {
		fmt.Printf("⚠ No run_complete event; the run was interrupted or is still writing\n")
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
