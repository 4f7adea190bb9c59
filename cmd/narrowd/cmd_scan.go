package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"narrowd/internal/analysis"
)

var (
	scanJSON     bool
	classifyJSON bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Locate \"any\" markers in the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPipeline(nil)
		occs, err := p.scanner.Scan(cmd.Context())
		if err != nil {
			return err
		}

		if scanJSON {
			return json.NewEncoder(os.Stdout).Encode(occs)
		}
		for _, occ := range occs {
			fmt.Printf("%s:%d: %s\n", occ.FilePath, occ.LineNumber+1, occ.CodeSnippet)
		}
		fmt.Printf("\n%d occurrences\n", len(occs))
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Scan and classify every occurrence",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPipeline(nil)
		ctxs, clss, err := p.classifyAll(cmd.Context())
		if err != nil {
			return err
		}
		report := p.aggregator.BuildReport(ctxs, clss, 100)

		if classifyJSON {
			return json.NewEncoder(os.Stdout).Encode(report)
		}
		printReport(report)
		return nil
	},
}

func printReport(report *analysis.Report) {
	fmt.Printf("Occurrences: %d (intentional %.1f%%, unintentional %.1f%%)\n",
		report.TotalOccurrences, report.IntentionalPercent, report.UnintentionalPercent)

	fmt.Println("\nBy domain:")
	for _, e := range report.DomainDistribution {
		fmt.Printf("  %-16s %5d  %5.1f%%\n", e.Name, e.Count, e.Percentage)
	}
	fmt.Println("\nBy category:")
	for _, e := range report.CategoryDistribution {
		fmt.Printf("  %-22s %5d  %5.1f%%\n", e.Name, e.Count, e.Percentage)
	}

	fmt.Printf("\nClassification self-consistency: %.1f%% over %d sampled\n",
		report.Accuracy.Percentage, report.Accuracy.SampleSize)

	if len(report.ManualReview) > 0 {
		fmt.Printf("\nManual review queue (%d):\n", len(report.ManualReview))
		for _, item := range report.ManualReview {
			fmt.Printf("  [%-6s] %s:%d %s (%.2f)\n",
				item.Priority, item.FilePath, item.LineNumber+1, item.Category, item.Confidence)
		}
	}
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "emit JSON")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "emit JSON")
}
