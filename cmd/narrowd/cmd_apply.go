package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"narrowd/internal/analysis"
	"narrowd/internal/checker"
	"narrowd/internal/logging"
	"narrowd/internal/replace"
	"narrowd/internal/store"
	"narrowd/internal/strategy"
	"narrowd/internal/vcs"
)

var (
	applyDryRun bool
	applyLimit  int
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply narrowing replacements as one safe transaction",
	Long: `Scans, classifies, plans replacements for unintentional occurrences, and
applies them as a single batch: each touched file is backed up first, the
type checker validates the whole batch, and any failure rolls every file
back. Items below the safety threshold are rejected before any write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		metrics, err := store.Open(cfg.Store.Path, logging.For(logger, logging.CategoryStore))
		if err != nil {
			return err
		}
		defer metrics.Close()

		if cfg.Safety.VCSCheckpoint && !applyDryRun {
			tag, err := vcs.Checkpoint(ctx, workspace, logger)
			switch {
			case err == nil:
				logger.Info("pre-campaign checkpoint", zap.String("tag", tag))
			case errors.Is(err, vcs.ErrNoRepository):
				logger.Warn("no git repository; proceeding on per-file backups only")
			default:
				return fmt.Errorf("checkpoint failed: %w", err)
			}
		}

		p := newPipeline(metrics)
		ctxs, clss, err := p.classifyAll(ctx)
		if err != nil {
			return err
		}

		registry, err := strategy.NewRegistry()
		if err != nil {
			return err
		}

		var plan []replace.TypeReplacement
		for i, c := range ctxs {
			if clss[i].IsIntentional {
				continue
			}
			proposal, ok := registry.Propose(c, clss[i])
			if !ok {
				continue
			}
			plan = append(plan, replace.Plan(c, clss[i], proposal))
			if applyLimit > 0 && len(plan) >= applyLimit {
				break
			}
		}

		if len(plan) == 0 {
			fmt.Println("Nothing to apply: no unintentional occurrence passed strategy validation.")
			return nil
		}
		if applyDryRun {
			for _, rep := range plan {
				fmt.Printf("%s:%d: any -> %s (safety %.2f)\n",
					rep.FilePath, rep.LineNumber+1, rep.Replacement, rep.Confidence)
			}
			fmt.Printf("\n%d planned replacements (dry run, nothing written)\n", len(plan))
			return nil
		}

		runner, err := checker.NewRunner(cfg.Checker.Command, workspace, cfg.Checker.Timeout(),
			logging.For(logger, logging.CategoryChecker))
		if err != nil {
			return err
		}
		backups := replace.NewBackupManager(cfg.Safety.BackupDir, logging.For(logger, logging.CategoryReplace))
		replacer := replace.NewReplacer(backups, runner, metrics, cfg.Safety.Threshold, nil,
			logging.For(logger, logging.CategoryReplace))

		result, err := replacer.ApplyBatch(ctx, plan)
		if result != nil {
			printBatchResult(result)
			recordProgress(ctx, p, metrics)
		}
		return err
	},
}

func printBatchResult(result *replace.BatchResult) {
	fmt.Println(result.Summary())
	for _, f := range result.FailedReplacements {
		fmt.Printf("  failed %s:%d: %s\n", f.Replacement.FilePath, f.Replacement.LineNumber+1, f.Reason)
	}
	for _, e := range result.CompilationErrors {
		fmt.Printf("  compiler: %s\n", e)
	}
}

// recordProgress appends a campaign snapshot after a batch so trending has
// fresh data.
func recordProgress(ctx context.Context, p *pipeline, metrics *store.CampaignStore) {
	ctxs, clss, err := p.classifyAll(ctx)
	if err != nil {
		logger.Warn("post-batch rescan failed", zap.Error(err))
		return
	}
	intentional := 0
	for _, c := range clss {
		if c.IsIntentional {
			intentional++
		}
	}
	rate := 100.0
	if batches, err := metrics.RecentBatches(100); err == nil {
		rate = analysis.SuccessRate(batches)
	}
	snap := store.ProgressSnapshot{
		Timestamp:     time.Now(),
		TotalAnyCount: len(ctxs),
		Intentional:   intentional,
		Unintentional: len(ctxs) - intentional,
		SuccessRate:   rate,
	}
	if err := metrics.RecordSnapshot(snap); err != nil {
		logger.Warn("recording progress snapshot failed", zap.Error(err))
	}
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Create a coarse git checkpoint of the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := vcs.Checkpoint(cmd.Context(), workspace, logger)
		if err != nil {
			return err
		}
		fmt.Println("checkpoint:", tag)
		return nil
	},
}

var backupsPruneAge time.Duration

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage transaction backups",
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove backups older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		age := backupsPruneAge
		if age <= 0 {
			age = cfg.Safety.Retention()
		}
		backups := replace.NewBackupManager(cfg.Safety.BackupDir, logging.For(logger, logging.CategoryReplace))
		removed, err := backups.Prune(age)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d transaction backup(s)\n", removed)
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "plan only, write nothing")
	applyCmd.Flags().IntVar(&applyLimit, "limit", 0, "cap the number of replacements in the batch")
	backupsCmd.AddCommand(backupsPruneCmd)
	backupsPruneCmd.Flags().DurationVar(&backupsPruneAge, "older-than", 0, "override the retention period")
}
