// Package replace applies type-narrowing edits under a safety contract:
// backup before write, compiler validation after write, full rollback on
// failure. A batch of replacements commits or rolls back as one unit; every
// commit leaves the repository in a compiling state.
package replace

import (
	"fmt"
	"time"

	"narrowd/internal/classify"
)

// State tracks a transaction through its lifecycle. Transitions are strictly
// forward: PLANNED -> BACKED_UP -> EDITED -> COMPILATION_CHECKED and then
// either COMMITTED or ROLLED_BACK.
type State string

const (
	StatePlanned            State = "planned"
	StateBackedUp           State = "backed_up"
	StateEdited             State = "edited"
	StateCompilationChecked State = "compilation_checked"
	StateCommitted          State = "committed"
	StateRolledBack         State = "rolled_back"
)

// TypeReplacement is one planned edit: replace Original with Replacement on
// a specific line. Confidence is always a safety score (risk-adjusted), set
// by Plan; raw classifier confidence never reaches the replacer.
type TypeReplacement struct {
	Original           string            `json:"original"`
	Replacement        string            `json:"replacement"`
	FilePath           string            `json:"file_path"`
	LineNumber         int               `json:"line_number"` // zero-based
	Confidence         float64           `json:"confidence"`  // safety score
	ValidationRequired bool              `json:"validation_required"`
	Category           classify.Category `json:"category"`
	IsTestFile         bool              `json:"is_test_file"`
}

// FailedReplacement explains why one item did not commit. Reason is always
// human-readable: the precondition, the computed score, or the compiler
// diagnostic, never a bare boolean.
type FailedReplacement struct {
	Replacement TypeReplacement `json:"replacement"`
	Reason      string          `json:"reason"`
	Stage       State           `json:"stage"`
}

// BatchResult is the terminal, immutable outcome of one transaction.
// Success implies zero CompilationErrors and RollbackPerformed == false.
type BatchResult struct {
	TransactionID       string              `json:"transaction_id"`
	Success             bool                `json:"success"`
	AppliedReplacements []TypeReplacement   `json:"applied_replacements"`
	FailedReplacements  []FailedReplacement `json:"failed_replacements"`
	RollbackPerformed   bool                `json:"rollback_performed"`
	CompilationErrors   []string            `json:"compilation_errors,omitempty"`
	Duration            time.Duration       `json:"duration"`
}

// Summary renders a one-line description of the result.
func (r *BatchResult) Summary() string {
	return fmt.Sprintf("tx %s: success=%t applied=%d failed=%d rollback=%t compile_errors=%d",
		r.TransactionID, r.Success, len(r.AppliedReplacements), len(r.FailedReplacements),
		r.RollbackPerformed, len(r.CompilationErrors))
}
