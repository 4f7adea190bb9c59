package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrowd/internal/classify"
	"narrowd/internal/domain"
	"narrowd/internal/scan"
	"narrowd/internal/store"
)

func occ(path, snippet string, dom domain.Domain) scan.Context {
	return scan.Context{
		Occurrence: scan.Occurrence{
			FilePath:    path,
			LineNumber:  1,
			CodeSnippet: snippet,
		},
		Domain: domain.Context{Domain: dom},
	}
}

func TestBuildReportDistributionsSumToHundred(t *testing.T) {
	ctxs := []scan.Context{
		occ("src/services/a.ts", "const xs: any[] = [];", domain.DomainService),
		occ("src/services/b.ts", "const xs: any[] = [];", domain.DomainService),
		occ("src/utils/c.ts", "const m: Record<string, any> = {};", domain.DomainUtility),
	}
	clss := []classify.Classification{
		{Category: classify.CategoryArrayType, Confidence: 0.85},
		{Category: classify.CategoryArrayType, Confidence: 0.85},
		{Category: classify.CategoryRecordType, Confidence: 0.85, IsIntentional: true},
	}

	rep := NewAggregator(nil).BuildReport(ctxs, clss, 90)

	assert.Equal(t, 3, rep.TotalOccurrences)
	assert.Equal(t, 1, rep.IntentionalCount)
	assert.Equal(t, 2, rep.UnintentionalCount)
	assert.InDelta(t, 100, rep.IntentionalPercent+rep.UnintentionalPercent, 0.1)

	sum := 0.0
	for _, e := range rep.DomainDistribution {
		sum += e.Percentage
	}
	assert.InDelta(t, 100, sum, 0.1)

	sum = 0
	for _, e := range rep.CategoryDistribution {
		sum += e.Percentage
	}
	assert.InDelta(t, 100, sum, 0.1)

	// Sorted by count descending.
	require.NotEmpty(t, rep.CategoryDistribution)
	assert.Equal(t, string(classify.CategoryArrayType), rep.CategoryDistribution[0].Name)
	assert.Equal(t, 2, rep.CategoryDistribution[0].Count)
}

func TestBuildReportEmptyInput(t *testing.T) {
	rep := NewAggregator(nil).BuildReport(nil, nil, 100)

	assert.Equal(t, 0, rep.TotalOccurrences)
	assert.Empty(t, rep.DomainDistribution)
	assert.Empty(t, rep.CategoryDistribution)
	assert.Zero(t, rep.IntentionalPercent)
	assert.Zero(t, rep.Accuracy.SampleSize)
	assert.Empty(t, rep.ManualReview)
}

func TestAccuracySampling(t *testing.T) {
	ctxs := []scan.Context{
		occ("src/a.ts", "const xs: any[] = [];", domain.DomainUtility),
		// Array classification with no array marker in sight.
		occ("src/b.ts", "const v = compute();", domain.DomainUtility),
	}
	clss := []classify.Classification{
		{Category: classify.CategoryArrayType, Confidence: 0.85},
		{Category: classify.CategoryArrayType, Confidence: 0.85},
	}

	rep := NewAggregator(nil).BuildReport(ctxs, clss, 100)
	assert.Equal(t, 2, rep.Accuracy.SampleSize)
	assert.Equal(t, 1, rep.Accuracy.Accurate)
	assert.InDelta(t, 50, rep.Accuracy.Percentage, 0.1)
}

func TestFlagForReviewPriorities(t *testing.T) {
	ctxs := []scan.Context{
		occ("src/a.ts", "const xs: any[] = [];", domain.DomainUtility), // confident, clean
		occ("src/b.ts", "const v: any = x;", domain.DomainUtility),     // low confidence
		occ("src/c.ts", "const v: any = y;", domain.DomainUtility),     // conflict
		occ("src/d.ts", "const v: any = z;", domain.DomainUtility),     // very low confidence
	}
	clss := []classify.Classification{
		{Category: classify.CategoryArrayType, Confidence: 0.9},
		{Category: classify.CategoryLegacyCompat, Confidence: 0.55, IsIntentional: true},
		{Category: classify.CategoryDynamicConfig, Confidence: 0.8, IsIntentional: true, SuggestedReplacement: "Record<string, unknown>"},
		{Category: classify.CategoryLegacyCompat, Confidence: 0.3, IsIntentional: true},
	}

	items := NewAggregator(nil).BuildReport(ctxs, clss, 100).ManualReview
	require.Len(t, items, 3)

	// High-priority items first (conflict and very low confidence), the
	// lower confidence of the two leading.
	assert.Equal(t, PriorityHigh, items[0].Priority)
	assert.Equal(t, "src/d.ts", items[0].FilePath)
	assert.Equal(t, PriorityHigh, items[1].Priority)
	assert.Equal(t, "src/c.ts", items[1].FilePath)
	assert.Equal(t, PriorityMedium, items[2].Priority)
	assert.Equal(t, "src/b.ts", items[2].FilePath)
}

var trendBase = time.Now()

func snapshotAt(daysAgo int, rate float64) store.ProgressSnapshot {
	return store.ProgressSnapshot{
		Timestamp:   trendBase.AddDate(0, 0, -daysAgo),
		SuccessRate: rate,
	}
}

func TestProjectTrendLinear(t *testing.T) {
	snaps := []store.ProgressSnapshot{
		snapshotAt(10, 70),
		snapshotAt(0, 80),
	}
	trend := NewAggregator(nil).ProjectTrend(snaps, 90)

	assert.False(t, trend.UsedFallback)
	assert.InDelta(t, 1.0, trend.RatePerDay, 0.01)
	assert.Equal(t, 10, trend.DaysNeeded)
}

func TestProjectTrendTooFewSnapshots(t *testing.T) {
	trend := NewAggregator(nil).ProjectTrend(nil, 90)
	assert.True(t, trend.UsedFallback)
	assert.Equal(t, 30, trend.DaysNeeded)
}

func TestProjectTrendFlatRateFallsBack(t *testing.T) {
	snaps := []store.ProgressSnapshot{
		snapshotAt(10, 80),
		snapshotAt(0, 80),
	}
	trend := NewAggregator(nil).ProjectTrend(snaps, 90)
	assert.True(t, trend.UsedFallback)
	assert.Equal(t, 30, trend.DaysNeeded)
}

func TestProjectTrendTargetAlreadyMet(t *testing.T) {
	snaps := []store.ProgressSnapshot{
		snapshotAt(10, 85),
		snapshotAt(0, 95),
	}
	trend := NewAggregator(nil).ProjectTrend(snaps, 90)
	assert.False(t, trend.UsedFallback)
	assert.Equal(t, 0, trend.DaysNeeded)
}

func TestSuccessRate(t *testing.T) {
	assert.InDelta(t, 100, SuccessRate(nil), 0.01)

	batches := []store.BatchRecord{
		{Applied: 3},
		{Applied: 2, RollbackPerformed: true},
		{Applied: 0, Failed: 1},
		{Applied: 5},
	}
	assert.InDelta(t, 50, SuccessRate(batches), 0.01)
}
