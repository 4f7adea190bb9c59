package replace

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"narrowd/internal/checker"
	"narrowd/internal/store"
)

// BuildChecker validates the working tree after edits. Satisfied by
// *checker.Runner; tests inject fakes.
type BuildChecker interface {
	Check(ctx context.Context) (*checker.Result, error)
}

// BatchRecorder persists batch outcomes for trending. Satisfied by
// *store.CampaignStore; may be nil.
type BatchRecorder interface {
	RecordBatch(rec store.BatchRecord) error
}

// Replacer applies replacement batches transactionally. It is single-
// threaded per batch; the shared gate mutex serializes transactions against
// monitoring probes touching the same tree.
type Replacer struct {
	backups   *BackupManager
	checker   BuildChecker
	recorder  BatchRecorder
	threshold float64
	gate      *sync.Mutex
	log       *zap.Logger
}

// NewReplacer wires a replacer. threshold <= 0 defaults to 0.7. gate may be
// nil when no monitor shares the tree; recorder may be nil.
func NewReplacer(backups *BackupManager, bc BuildChecker, recorder BatchRecorder, threshold float64, gate *sync.Mutex, log *zap.Logger) *Replacer {
	if threshold <= 0 {
		threshold = 0.7
	}
	if gate == nil {
		gate = &sync.Mutex{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Replacer{
		backups:   backups,
		checker:   bc,
		recorder:  recorder,
		threshold: threshold,
		gate:      gate,
		log:       log,
	}
}

// Apply runs a single replacement as a one-item batch.
func (r *Replacer) Apply(ctx context.Context, rep TypeReplacement) (*BatchResult, error) {
	return r.ApplyBatch(ctx, []TypeReplacement{rep})
}

// ApplyBatch applies a batch of replacements as one transaction. Items are
// grouped by file; each file is backed up once, edited in a single pass,
// and one compiler check covers the whole batch. Any compilation failure
// rolls back every touched file. Precondition and safety-gate rejections
// exclude the item and continue; I/O failures abort the transaction after a
// best-effort restore and propagate to the caller.
func (r *Replacer) ApplyBatch(ctx context.Context, reps []TypeReplacement) (*BatchResult, error) {
	r.gate.Lock()
	defer r.gate.Unlock()

	start := time.Now()
	result := &BatchResult{TransactionID: uuid.NewString()}
	log := r.log.With(zap.String("tx", result.TransactionID))
	log.Info("batch started", zap.Int("replacements", len(reps)))

	// Safety gate: reject before any file is touched.
	var accepted []TypeReplacement
	for _, rep := range reps {
		if rep.Confidence < r.threshold {
			result.FailedReplacements = append(result.FailedReplacements, FailedReplacement{
				Replacement: rep,
				Reason: fmt.Sprintf("safety score %.2f below threshold %.2f",
					rep.Confidence, r.threshold),
				Stage: StatePlanned,
			})
			continue
		}
		accepted = append(accepted, rep)
	}

	byFile := groupByFile(accepted)
	var touched []Backup

	for _, fileReps := range byFile {
		path := fileReps[0].FilePath

		data, err := os.ReadFile(path)
		if err != nil {
			// I/O failure: fatal for the unit of work.
			r.rollback(touched, result, log)
			r.record(result)
			return result, fmt.Errorf("reading %s: %w", path, err)
		}
		lines := strings.Split(string(data), "\n")

		// Validate preconditions per item; only valid edits reach the file.
		var edits []TypeReplacement
		for _, rep := range fileReps {
			if rep.LineNumber < 0 || rep.LineNumber >= len(lines) {
				result.FailedReplacements = append(result.FailedReplacements, FailedReplacement{
					Replacement: rep,
					Reason: fmt.Sprintf("line %d out of range for %s (%d lines)",
						rep.LineNumber, path, len(lines)),
					Stage: StatePlanned,
				})
				continue
			}
			if !strings.Contains(lines[rep.LineNumber], rep.Original) {
				result.FailedReplacements = append(result.FailedReplacements, FailedReplacement{
					Replacement: rep,
					Reason: fmt.Sprintf("pattern %q not found on line %d of %s",
						rep.Original, rep.LineNumber, path),
					Stage: StatePlanned,
				})
				continue
			}
			edits = append(edits, rep)
		}
		if len(edits) == 0 {
			continue
		}

		// Backup before the first write to this file. A failed backup is
		// fatal: never edit without a verified copy.
		backup, err := r.backups.Create(result.TransactionID, path)
		if err != nil {
			r.rollback(touched, result, log)
			r.record(result)
			return result, fmt.Errorf("backup failed for %s: %w", path, err)
		}
		touched = append(touched, backup)
		log.Debug("file backed up", zap.String("file", path), zap.String("state", string(StateBackedUp)))

		// Apply all edits for the file in one pass. Preconditions were
		// checked against the pre-edit lines, so two items targeting the
		// same line can still collide: re-check against the mutated line and
		// fail a consumed pattern instead of silently counting it.
		var applied []TypeReplacement
		for _, rep := range edits {
			line := lines[rep.LineNumber]
			if !strings.Contains(line, rep.Original) {
				result.FailedReplacements = append(result.FailedReplacements, FailedReplacement{
					Replacement: rep,
					Reason: fmt.Sprintf("pattern %q consumed by an earlier edit on line %d of %s",
						rep.Original, rep.LineNumber, path),
					Stage: StateEdited,
				})
				continue
			}
			lines[rep.LineNumber] = strings.Replace(line, rep.Original, rep.Replacement, 1)
			applied = append(applied, rep)
		}
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
			r.rollback(touched, result, log)
			r.record(result)
			return result, fmt.Errorf("writing %s: %w", path, err)
		}
		result.AppliedReplacements = append(result.AppliedReplacements, applied...)
		log.Debug("file edited", zap.String("file", path),
			zap.Int("edits", len(applied)), zap.String("state", string(StateEdited)))
	}

	if len(result.AppliedReplacements) == 0 {
		// Nothing was written; no compiler check needed.
		result.Success = len(result.FailedReplacements) == 0
		result.Duration = time.Since(start)
		r.record(result)
		log.Info("batch finished without edits", zap.String("summary", result.Summary()))
		return result, nil
	}

	// One compiler check validates the whole batch.
	checkResult, err := r.checker.Check(ctx)
	if err != nil {
		// The probe itself failed to run; treat as a failed compilation.
		r.rollback(touched, result, log)
		result.CompilationErrors = []string{fmt.Sprintf("checker invocation failed: %v", err)}
		r.failApplied(result, "rolled back: checker invocation failed")
		result.Duration = time.Since(start)
		r.record(result)
		return result, nil
	}
	log.Debug("compilation checked",
		zap.Bool("stable", checkResult.Stable), zap.String("state", string(StateCompilationChecked)))

	if !checkResult.Stable {
		r.rollback(touched, result, log)
		result.CompilationErrors = checkResult.ErrorMessages()
		if checkResult.TimedOut {
			result.CompilationErrors = append(result.CompilationErrors, "checker timed out; treated as compilation failure")
		}
		r.failApplied(result, "rolled back: batch compilation failed")
		result.Duration = time.Since(start)
		r.record(result)
		log.Warn("batch rolled back", zap.String("summary", result.Summary()))
		return result, nil
	}

	result.Success = len(result.FailedReplacements) == 0
	result.Duration = time.Since(start)
	r.record(result)
	log.Info("batch committed",
		zap.String("state", string(StateCommitted)), zap.String("summary", result.Summary()))
	return result, nil
}

// rollback restores every touched file byte-for-byte from its backup.
func (r *Replacer) rollback(touched []Backup, result *BatchResult, log *zap.Logger) {
	if len(touched) == 0 {
		return
	}
	for _, b := range touched {
		if err := r.backups.Restore(b); err != nil {
			// A failed restore leaves the tree inconsistent; scream.
			log.Error("rollback restore failed", zap.String("file", b.FilePath), zap.Error(err))
		}
	}
	result.RollbackPerformed = true
	log.Info("transaction rolled back",
		zap.Int("files", len(touched)), zap.String("state", string(StateRolledBack)))
}

// failApplied moves all applied items into the failed list after a
// rollback: nothing from this batch survived on disk.
func (r *Replacer) failApplied(result *BatchResult, reason string) {
	for _, rep := range result.AppliedReplacements {
		result.FailedReplacements = append(result.FailedReplacements, FailedReplacement{
			Replacement: rep,
			Reason:      reason,
			Stage:       StateRolledBack,
		})
	}
	result.AppliedReplacements = nil
	result.Success = false
}

// record persists the batch outcome when a recorder is wired.
func (r *Replacer) record(result *BatchResult) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.RecordBatch(store.BatchRecord{
		ID:                result.TransactionID,
		Timestamp:         time.Now(),
		Applied:           len(result.AppliedReplacements),
		Failed:            len(result.FailedReplacements),
		RollbackPerformed: result.RollbackPerformed,
	})
	if err != nil {
		r.log.Warn("recording batch result failed", zap.Error(err))
	}
}

// groupByFile buckets replacements by target path, each bucket ordered by
// line number, buckets ordered by path for deterministic application.
func groupByFile(reps []TypeReplacement) [][]TypeReplacement {
	buckets := make(map[string][]TypeReplacement)
	for _, rep := range reps {
		buckets[rep.FilePath] = append(buckets[rep.FilePath], rep)
	}
	paths := make([]string, 0, len(buckets))
	for path := range buckets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make([][]TypeReplacement, 0, len(buckets))
	for _, path := range paths {
		bucket := buckets[path]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].LineNumber < bucket[j].LineNumber })
		out = append(out, bucket)
	}
	return out
}
