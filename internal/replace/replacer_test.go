package replace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrowd/internal/checker"
	"narrowd/internal/classify"
	"narrowd/internal/scan"
	"narrowd/internal/store"
)

// fakeChecker satisfies BuildChecker with a scripted outcome.
type fakeChecker struct {
	result *checker.Result
	err    error
	calls  int
}

func (f *fakeChecker) Check(ctx context.Context) (*checker.Result, error) {
	f.calls++
	return f.result, f.err
}

func stableChecker() *fakeChecker {
	return &fakeChecker{result: &checker.Result{Stable: true}}
}

func failingChecker() *fakeChecker {
	return &fakeChecker{result: &checker.Result{
		Stable:   false,
		ExitCode: 2,
		Diagnostics: []checker.Diagnostic{
			{File: "src/a.ts", Line: 1, Column: 14, Code: "TS2322", Message: "type mismatch"},
		},
	}}
}

// memRecorder captures batch records in memory.
type memRecorder struct {
	records []store.BatchRecord
}

func (m *memRecorder) RecordBatch(rec store.BatchRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func newTestReplacer(t *testing.T, bc BuildChecker) (*Replacer, *memRecorder) {
	t.Helper()
	rec := &memRecorder{}
	backups := NewBackupManager(filepath.Join(t.TempDir(), "backups"), nil)
	return NewReplacer(backups, bc, rec, 0.7, nil, nil), rec
}

func writeTS(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readTS(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplyBatchCommitsOnStableBuild(t *testing.T) {
	dir := t.TempDir()
	path := writeTS(t, dir, "a.ts", "const items: any[] = [];\nexport default items;\n")

	fc := stableChecker()
	r, rec := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{{
		Original:    "any[]",
		Replacement: "string[]",
		FilePath:    path,
		LineNumber:  0,
		Confidence:  0.95,
		Category:    classify.CategoryArrayType,
	}})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.RollbackPerformed)
	assert.Empty(t, res.CompilationErrors)
	assert.Len(t, res.AppliedReplacements, 1)
	assert.Empty(t, res.FailedReplacements)
	assert.Equal(t, 1, fc.calls)

	assert.Equal(t, "const items: string[] = [];\nexport default items;\n", readTS(t, path))

	require.Len(t, rec.records, 1)
	assert.Equal(t, res.TransactionID, rec.records[0].ID)
	assert.Equal(t, 1, rec.records[0].Applied)
}

func TestApplyBatchSafetyGateRejectsLowScore(t *testing.T) {
	dir := t.TempDir()
	before := "const v = payload as any;\n"
	path := writeTS(t, dir, "a.ts", before)

	fc := stableChecker()
	r, _ := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{{
		Original:    "as any",
		Replacement: "as unknown",
		FilePath:    path,
		LineNumber:  0,
		Confidence:  0.55,
		Category:    classify.CategoryTypeAssertion,
	}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.AppliedReplacements)
	require.Len(t, res.FailedReplacements, 1)
	assert.Contains(t, res.FailedReplacements[0].Reason, "safety score 0.55 below threshold 0.70")
	assert.Equal(t, StatePlanned, res.FailedReplacements[0].Stage)

	// The file is untouched and the compiler never ran.
	assert.Equal(t, before, readTS(t, path))
	assert.Equal(t, 0, fc.calls)
}

func TestApplyBatchRollsBackAllFilesOnCompileFailure(t *testing.T) {
	dir := t.TempDir()
	beforeA := "const items: any[] = [];\nconst n = 1;\n"
	beforeB := "function f(value: any) {\n  return value;\n}\n"
	pathA := writeTS(t, dir, "a.ts", beforeA)
	pathB := writeTS(t, dir, "b.ts", beforeB)

	fc := failingChecker()
	r, rec := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{
		{Original: "any[]", Replacement: "string[]", FilePath: pathA, LineNumber: 0, Confidence: 0.9, Category: classify.CategoryArrayType},
		{Original: ": any", Replacement: ": unknown", FilePath: pathB, LineNumber: 0, Confidence: 0.9, Category: classify.CategoryFunctionParam},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	assert.NotEmpty(t, res.CompilationErrors)
	assert.Empty(t, res.AppliedReplacements)
	require.Len(t, res.FailedReplacements, 2)
	for _, f := range res.FailedReplacements {
		assert.Equal(t, StateRolledBack, f.Stage)
	}

	// Both files are byte-for-byte identical to their pre-batch content.
	if diff := cmp.Diff(beforeA, readTS(t, pathA)); diff != "" {
		t.Errorf("file a not restored (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(beforeB, readTS(t, pathB)); diff != "" {
		t.Errorf("file b not restored (-want +got):\n%s", diff)
	}

	require.Len(t, rec.records, 1)
	assert.True(t, rec.records[0].RollbackPerformed)
}

func TestApplyBatchTimeoutTreatedAsCompileFailure(t *testing.T) {
	dir := t.TempDir()
	before := "const items: any[] = [];\n"
	path := writeTS(t, dir, "a.ts", before)

	fc := &fakeChecker{result: &checker.Result{
		Stable:      false,
		TimedOut:    true,
		ExitCode:    -1,
		Diagnostics: []checker.Diagnostic{{Message: "checker timed out after 2m0s"}},
	}}
	r, _ := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{{
		Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 0,
		Confidence: 0.9, Category: classify.CategoryArrayType,
	}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	assert.Contains(t, res.CompilationErrors[len(res.CompilationErrors)-1], "timed out")
	assert.Equal(t, before, readTS(t, path))
}

func TestApplyBatchCheckerInvocationFailure(t *testing.T) {
	dir := t.TempDir()
	before := "const items: any[] = [];\n"
	path := writeTS(t, dir, "a.ts", before)

	fc := &fakeChecker{err: errors.New("binary not found")}
	r, _ := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{{
		Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 0,
		Confidence: 0.9, Category: classify.CategoryArrayType,
	}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	require.NotEmpty(t, res.CompilationErrors)
	assert.Contains(t, res.CompilationErrors[0], "checker invocation failed")
	assert.Equal(t, before, readTS(t, path))
}

func TestApplyBatchPreconditionRejections(t *testing.T) {
	dir := t.TempDir()
	before := "const n = 1;\n"
	path := writeTS(t, dir, "a.ts", before)

	fc := stableChecker()
	r, _ := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{
		{Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 99, Confidence: 0.9},
		{Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 0, Confidence: 0.9},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.AppliedReplacements)
	require.Len(t, res.FailedReplacements, 2)
	assert.Contains(t, res.FailedReplacements[0].Reason, "not found on line")
	assert.Contains(t, res.FailedReplacements[1].Reason, "out of range")

	// Nothing changed, so the compiler was never consulted.
	assert.Equal(t, before, readTS(t, path))
	assert.Equal(t, 0, fc.calls)
}

func TestApplyBatchMissingFileAborts(t *testing.T) {
	fc := stableChecker()
	r, rec := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{{
		Original: "any[]", Replacement: "string[]",
		FilePath: filepath.Join(t.TempDir(), "absent.ts"), LineNumber: 0, Confidence: 0.9,
	}})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, fc.calls)
	// The aborted transaction is still recorded for trending.
	assert.Len(t, rec.records, 1)
}

func TestApplyBatchOneCheckPerBatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTS(t, dir, "a.ts", "const a: any[] = [];\nconst b: any[] = [];\nconst c: any[] = [];\n")

	fc := stableChecker()
	r, _ := newTestReplacer(t, fc)

	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{
		{Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 0, Confidence: 0.9},
		{Original: "any[]", Replacement: "number[]", FilePath: path, LineNumber: 1, Confidence: 0.9},
		{Original: "any[]", Replacement: "boolean[]", FilePath: path, LineNumber: 2, Confidence: 0.9},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Len(t, res.AppliedReplacements, 3)
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, "const a: string[] = [];\nconst b: number[] = [];\nconst c: boolean[] = [];\n", readTS(t, path))
}

func TestApplyBatchSameLineCollisionFailsSecondEdit(t *testing.T) {
	dir := t.TempDir()
	path := writeTS(t, dir, "a.ts", "const items: any[] = [];\n")

	fc := stableChecker()
	r, _ := newTestReplacer(t, fc)

	// Both items pass preconditions against the pre-edit line, but the
	// first edit consumes the only marker occurrence.
	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{
		{Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 0, Confidence: 0.9},
		{Original: "any[]", Replacement: "number[]", FilePath: path, LineNumber: 0, Confidence: 0.9},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.RollbackPerformed)
	require.Len(t, res.AppliedReplacements, 1)
	assert.Equal(t, "string[]", res.AppliedReplacements[0].Replacement)
	require.Len(t, res.FailedReplacements, 1)
	assert.Contains(t, res.FailedReplacements[0].Reason, "consumed by an earlier edit")
	assert.Equal(t, StateEdited, res.FailedReplacements[0].Stage)

	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, "const items: string[] = [];\n", readTS(t, path))
}

func TestBatchResultInvariant(t *testing.T) {
	dir := t.TempDir()
	path := writeTS(t, dir, "a.ts", "const items: any[] = [];\n")

	r, _ := newTestReplacer(t, failingChecker())
	res, err := r.ApplyBatch(context.Background(), []TypeReplacement{{
		Original: "any[]", Replacement: "string[]", FilePath: path, LineNumber: 0, Confidence: 0.9,
	}})
	require.NoError(t, err)

	// Success implies no rollback and no compile errors; here the inverse.
	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	assert.NotEmpty(t, res.CompilationErrors)
}

func TestPlanBuildsMarkerSpecificEdit(t *testing.T) {
	cases := []struct {
		name            string
		snippet         string
		proposal        string
		wantOriginal    string
		wantReplacement string
	}{
		{"array suffix", "const items: any[] = [];", "string", "any[]", "string[]"},
		{"array generic", "let xs: Array<any> = [];", "string[]", "Array<any>", "Array<string>"},
		{"record", "const m: Record<string, any> = {};", "number", "Record<string, any>", "Record<string, number>"},
		{"assertion", "const v = payload as any;", "unknown", "as any", "as unknown"},
		{"generic arg", "const v = parse<any>(raw);", "unknown", "<any>", "<unknown>"},
		{"annotation", "function f(value: any) {", "unknown", ": any", ": unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := scan.Context{Occurrence: scan.Occurrence{
				FilePath:    "src/a.ts",
				LineNumber:  3,
				CodeSnippet: tc.snippet,
			}}
			rep := Plan(ctx, classify.Classification{Category: classify.CategoryArrayType, Confidence: 0.8}, tc.proposal)
			assert.Equal(t, tc.wantOriginal, rep.Original)
			assert.Equal(t, tc.wantReplacement, rep.Replacement)
			assert.True(t, rep.ValidationRequired)
		})
	}
}

func TestSafetyScoreAdjustments(t *testing.T) {
	assert.InDelta(t, 0.9, SafetyScore(0.8, classify.CategoryArrayType, false), 1e-9)
	assert.InDelta(t, 0.9, SafetyScore(0.8, classify.CategoryRecordType, false), 1e-9)
	assert.InDelta(t, 0.6, SafetyScore(0.8, classify.CategoryErrorHandling, false), 1e-9)
	assert.InDelta(t, 0.9, SafetyScore(0.8, classify.CategoryTypeAssertion, true), 1e-9)
	assert.InDelta(t, 1.0, SafetyScore(0.95, classify.CategoryArrayType, true), 1e-9)
	assert.InDelta(t, 0.0, SafetyScore(0.1, classify.CategoryErrorHandling, false), 1e-9)
}
