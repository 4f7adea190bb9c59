// Package analysis aggregates classification output into campaign reports:
// domain and category distributions, self-consistency accuracy sampling,
// success-rate trending with completion projection, and the manual-review
// queue. Aggregation is read-only; it never feeds back into the replacement
// path within a transaction.
package analysis

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"narrowd/internal/classify"
	"narrowd/internal/scan"
	"narrowd/internal/store"
)

// accuracySampleCap bounds the classification-accuracy sample.
const accuracySampleCap = 100

// fallbackProjectionDays is used when the success rate is flat or falling.
const fallbackProjectionDays = 30

// DistributionEntry is one bucket of a percentage distribution. Percentages
// across a distribution sum to 100 (within float tolerance) when the total
// is non-zero, and the distribution is empty when the total is zero.
type DistributionEntry struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// AccuracyReport is a bounded-sample self-consistency check: it validates
// classifications against category-specific syntactic heuristics, not
// ground truth.
type AccuracyReport struct {
	SampleSize int     `json:"sample_size"`
	Accurate   int     `json:"accurate"`
	Percentage float64 `json:"percentage"`
}

// ReviewPriority orders the manual-review queue.
type ReviewPriority string

const (
	PriorityHigh   ReviewPriority = "high"
	PriorityMedium ReviewPriority = "medium"
	PriorityLow    ReviewPriority = "low"
)

// ReviewItem flags one occurrence for human review.
type ReviewItem struct {
	FilePath   string            `json:"file_path"`
	LineNumber int               `json:"line_number"`
	Category   classify.Category `json:"category"`
	Confidence float64           `json:"confidence"`
	Priority   ReviewPriority    `json:"priority"`
	Reasons    []string          `json:"reasons"`
}

// Report is a full aggregation over the campaign's current occurrences.
type Report struct {
	GeneratedAt          time.Time           `json:"generated_at"`
	TotalOccurrences     int                 `json:"total_occurrences"`
	DomainDistribution   []DistributionEntry `json:"domain_distribution"`
	CategoryDistribution []DistributionEntry `json:"category_distribution"`
	IntentionalCount     int                 `json:"intentional_count"`
	UnintentionalCount   int                 `json:"unintentional_count"`
	IntentionalPercent   float64             `json:"intentional_percent"`
	UnintentionalPercent float64             `json:"unintentional_percent"`
	CurrentSuccessRate   float64             `json:"current_success_rate"` // percent
	Accuracy             AccuracyReport      `json:"accuracy"`
	ManualReview         []ReviewItem        `json:"manual_review"`
}

// Trend is a linear extrapolation of success-rate history.
type Trend struct {
	RatePerDay          float64   `json:"rate_per_day"`
	DaysNeeded          int       `json:"days_needed"`
	ProjectedCompletion time.Time `json:"projected_completion"`
	UsedFallback        bool      `json:"used_fallback"`
}

// Aggregator builds reports from classified occurrences and store history.
type Aggregator struct {
	log *zap.Logger
}

func NewAggregator(log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{log: log}
}

// BuildReport aggregates contexts and their classifications (parallel
// slices; extra entries in either are ignored) plus the current success
// rate into a Report.
func (a *Aggregator) BuildReport(ctxs []scan.Context, clss []classify.Classification, successRate float64) *Report {
	n := min(len(ctxs), len(clss))

	report := &Report{
		GeneratedAt:        time.Now(),
		TotalOccurrences:   n,
		CurrentSuccessRate: successRate,
	}

	domainCounts := make(map[string]int)
	categoryCounts := make(map[string]int)
	for i := 0; i < n; i++ {
		domainCounts[string(ctxs[i].Domain.Domain)]++
		categoryCounts[string(clss[i].Category)]++
		if clss[i].IsIntentional {
			report.IntentionalCount++
		} else {
			report.UnintentionalCount++
		}
	}

	report.DomainDistribution = distribution(domainCounts, n)
	report.CategoryDistribution = distribution(categoryCounts, n)
	if n > 0 {
		report.IntentionalPercent = 100 * float64(report.IntentionalCount) / float64(n)
		report.UnintentionalPercent = 100 * float64(report.UnintentionalCount) / float64(n)
	}
	report.Accuracy = a.sampleAccuracy(ctxs[:n], clss[:n])
	report.ManualReview = a.flagForReview(ctxs[:n], clss[:n])

	a.log.Debug("report built",
		zap.Int("occurrences", n),
		zap.Float64("accuracy", report.Accuracy.Percentage),
		zap.Int("review_queue", len(report.ManualReview)))
	return report
}

// distribution turns counts into percentage entries, sorted by count
// descending then name for stable output.
func distribution(counts map[string]int, total int) []DistributionEntry {
	entries := make([]DistributionEntry, 0, len(counts))
	for name, count := range counts {
		entry := DistributionEntry{Name: name, Count: count}
		if total > 0 {
			entry.Percentage = 100 * float64(count) / float64(total)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// sampleAccuracy validates the first min(n,100) classifications against
// syntactic heuristics for their category.
func (a *Aggregator) sampleAccuracy(ctxs []scan.Context, clss []classify.Classification) AccuracyReport {
	size := min(len(ctxs), accuracySampleCap)
	report := AccuracyReport{SampleSize: size}
	for i := 0; i < size; i++ {
		if classificationConsistent(ctxs[i], clss[i]) {
			report.Accurate++
		}
	}
	if size > 0 {
		report.Percentage = 100 * float64(report.Accurate) / float64(size)
	}
	return report
}

// classificationConsistent checks whether the snippet's context supports
// the assigned category.
func classificationConsistent(ctx scan.Context, cls classify.Classification) bool {
	haystack := strings.ToLower(ctx.CodeSnippet + "\n" + strings.Join(ctx.SurroundingLines, "\n"))
	switch cls.Category {
	case classify.CategoryErrorHandling:
		return strings.Contains(haystack, "catch") || strings.Contains(haystack, "error")
	case classify.CategoryArrayType:
		return strings.Contains(haystack, "any[]") || strings.Contains(haystack, "array<any>")
	case classify.CategoryRecordType:
		return strings.Contains(haystack, "record<") || strings.Contains(haystack, "[key: string]")
	case classify.CategoryTestMock:
		return ctx.IsInTestFile || strings.Contains(haystack, "mock")
	case classify.CategoryTypeAssertion:
		return strings.Contains(haystack, "as any") || strings.Contains(haystack, "<any>")
	case classify.CategoryFunctionParam, classify.CategoryReturnType:
		return strings.Contains(haystack, "(") || strings.Contains(haystack, "=>")
	case classify.CategoryExternalAPI:
		return strings.Contains(haystack, "api") || strings.Contains(haystack, "fetch") ||
			strings.Contains(haystack, "response") || strings.Contains(haystack, "request")
	case classify.CategoryDynamicConfig:
		return strings.Contains(haystack, "config") || strings.Contains(haystack, "options") ||
			strings.Contains(haystack, "settings") || strings.Contains(haystack, "params")
	case classify.CategoryLegacyCompat:
		// Fallback bucket: anything can legitimately land here.
		return true
	default:
		return false
	}
}

// flagForReview collects occurrences a human should look at: low
// confidence, ambiguous domain context, or conflicting signals (marked
// intentional yet a replacement is still suggested).
func (a *Aggregator) flagForReview(ctxs []scan.Context, clss []classify.Classification) []ReviewItem {
	var items []ReviewItem
	for i := range ctxs {
		cls := clss[i]
		var reasons []string
		conflict := cls.IsIntentional && cls.SuggestedReplacement != ""
		if cls.Confidence < 0.6 {
			reasons = append(reasons, "low classification confidence")
		}
		if len(ctxs[i].Domain.IntentionalityHints) >= 3 {
			reasons = append(reasons, "ambiguous domain context (many hints)")
		}
		if conflict {
			reasons = append(reasons, "conflicting signals: intentional yet replacement suggested")
		}
		if len(reasons) == 0 {
			continue
		}

		priority := PriorityLow
		switch {
		case cls.Confidence < 0.4 || conflict:
			priority = PriorityHigh
		case cls.Confidence < 0.6 || len(reasons) > 1:
			priority = PriorityMedium
		}

		items = append(items, ReviewItem{
			FilePath:   ctxs[i].FilePath,
			LineNumber: ctxs[i].LineNumber,
			Category:   cls.Category,
			Confidence: cls.Confidence,
			Priority:   priority,
			Reasons:    reasons,
		})
	}

	rank := map[ReviewPriority]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}
	sort.SliceStable(items, func(i, j int) bool {
		if rank[items[i].Priority] != rank[items[j].Priority] {
			return rank[items[i].Priority] < rank[items[j].Priority]
		}
		return items[i].Confidence < items[j].Confidence
	})
	return items
}

// ProjectTrend extrapolates the success-rate history linearly toward
// target (percent). A non-positive rate of change falls back to a fixed
// window rather than projecting never.
func (a *Aggregator) ProjectTrend(snapshots []store.ProgressSnapshot, target float64) Trend {
	now := time.Now()
	if len(snapshots) < 2 {
		return Trend{
			DaysNeeded:          fallbackProjectionDays,
			ProjectedCompletion: now.AddDate(0, 0, fallbackProjectionDays),
			UsedFallback:        true,
		}
	}

	first := snapshots[0]
	last := snapshots[len(snapshots)-1]
	days := last.Timestamp.Sub(first.Timestamp).Hours() / 24
	if days <= 0 {
		days = 1
	}
	rate := (last.SuccessRate - first.SuccessRate) / days

	if rate <= 0 || last.SuccessRate >= target {
		needed := fallbackProjectionDays
		if last.SuccessRate >= target {
			needed = 0
		}
		return Trend{
			RatePerDay:          rate,
			DaysNeeded:          needed,
			ProjectedCompletion: now.AddDate(0, 0, needed),
			UsedFallback:        last.SuccessRate < target,
		}
	}

	needed := int(math.Ceil((target - last.SuccessRate) / rate))
	return Trend{
		RatePerDay:          rate,
		DaysNeeded:          needed,
		ProjectedCompletion: now.AddDate(0, 0, needed),
	}
}

// SuccessRate computes the campaign success rate (percent of batches that
// committed) from recent batch records. No history reads as 100: nothing
// has failed yet.
func SuccessRate(batches []store.BatchRecord) float64 {
	if len(batches) == 0 {
		return 100
	}
	ok := 0
	for _, b := range batches {
		if !b.RollbackPerformed && b.Failed == 0 {
			ok++
		}
	}
	return 100 * float64(ok) / float64(len(batches))
}
