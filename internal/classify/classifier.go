// Package classify assigns each marker occurrence a category, an
// intentionality verdict, and a confidence score. Classification is
// pattern-based plus contextual signals; the compiler downstream remains
// the oracle of correctness.
package classify

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"narrowd/internal/scan"
)

// Category is the closed set of occurrence kinds. Adding a category means
// extending this enumeration, the pattern table, and the strategy registry;
// the registry constructor fails loudly when the three drift apart.
type Category string

const (
	CategoryErrorHandling Category = "error_handling"
	CategoryExternalAPI   Category = "external_api"
	CategoryTestMock      Category = "test_mock"
	CategoryDynamicConfig Category = "dynamic_config"
	CategoryLegacyCompat  Category = "legacy_compatibility"
	CategoryArrayType     Category = "array_type"
	CategoryRecordType    Category = "record_type"
	CategoryFunctionParam Category = "function_param"
	CategoryReturnType    Category = "return_type"
	CategoryTypeAssertion Category = "type_assertion"
)

// Categories lists every category in tie-break priority order: when two
// patterns match a snippet with the same specificity, the earlier category
// here wins.
func Categories() []Category {
	return []Category{
		CategoryArrayType,
		CategoryRecordType,
		CategoryFunctionParam,
		CategoryReturnType,
		CategoryTypeAssertion,
		CategoryTestMock,
		CategoryExternalAPI,
		CategoryDynamicConfig,
		CategoryLegacyCompat,
		CategoryErrorHandling,
	}
}

// Classification is the classifier's verdict for one occurrence. Values are
// never mutated after creation; re-classification produces a new value.
type Classification struct {
	Category             Category `json:"category"`
	IsIntentional        bool     `json:"is_intentional"`
	Confidence           float64  `json:"confidence"`
	SuggestedReplacement string   `json:"suggested_replacement,omitempty"`
}

// pattern couples a category with its syntactic signature. Specificity is
// the length of the literal regex match on the snippet; longer wins.
type pattern struct {
	category Category
	re       *regexp.Regexp
	base     float64 // base confidence when this pattern matches
}

var patterns = []pattern{
	{CategoryArrayType, regexp.MustCompile(`\bany\[\]|Array<any>`), 0.85},
	{CategoryRecordType, regexp.MustCompile(`Record<\s*string\s*,\s*any\s*>|\{\s*\[key:\s*string\]:\s*any\s*\}`), 0.85},
	{CategoryFunctionParam, regexp.MustCompile(`\(\s*[\w.$]+\s*:\s*any[\s,)]`), 0.8},
	{CategoryReturnType, regexp.MustCompile(`\)\s*:\s*any\b|=>\s*any\b`), 0.8},
	{CategoryTypeAssertion, regexp.MustCompile(`\bas\s+any\b|<any>`), 0.75},
	{CategoryTestMock, regexp.MustCompile(`\b(mock|stub|spy|fake|jest\.)`), 0.7},
	{CategoryExternalAPI, regexp.MustCompile(`\b(fetch|axios|response|request|api)\b`), 0.65},
	{CategoryDynamicConfig, regexp.MustCompile(`\b(config|options|settings|params)\b`), 0.6},
	{CategoryLegacyCompat, regexp.MustCompile(`\b(legacy|deprecated|compat|migration)\b`), 0.6},
	{CategoryErrorHandling, regexp.MustCompile(`\bcatch\s*\(\s*[\w.$]+\s*:\s*any|\b(catch|error|err|exception)\b`), 0.7},
}

// Classifier turns a scan.Context into a Classification. Stateless and
// deterministic: the same context always yields an identical result.
type Classifier struct {
	log *zap.Logger
}

func NewClassifier(log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{log: log}
}

// Classify assigns a category, intentionality, and confidence to one
// occurrence. Unmatchable snippets fall into the safest bucket: legacy
// compatibility, confidence 0.5, intentional: do not touch code we cannot
// explain.
func (c *Classifier) Classify(ctx scan.Context) Classification {
	cat, base, matched := matchCategory(ctx.CodeSnippet)
	if !matched {
		c.log.Debug("no pattern matched, using safe default",
			zap.String("file", ctx.FilePath), zap.Int("line", ctx.LineNumber))
		return Classification{
			Category:      CategoryLegacyCompat,
			IsIntentional: true,
			Confidence:    0.5,
		}
	}

	confidence := base
	if ctx.HasExistingComment {
		confidence += 0.15
	}
	if ctx.IsInTestFile && cat == CategoryTestMock {
		confidence += 0.1
	}
	// More domain hints means more ambiguity about intent.
	confidence -= 0.05 * float64(len(ctx.Domain.IntentionalityHints))
	confidence = clamp01(confidence)

	suggestion := defaultSuggestion(cat)
	intentional := isIntentional(cat, ctx, suggestion)
	if intentional {
		suggestion = ""
	}

	return Classification{
		Category:             cat,
		IsIntentional:        intentional,
		Confidence:           confidence,
		SuggestedReplacement: suggestion,
	}
}

// matchCategory runs the pattern table over the snippet. The most specific
// match (longest matched literal) wins; exact ties fall back to the
// Categories() priority order, which the table already encodes by position.
func matchCategory(snippet string) (Category, float64, bool) {
	var (
		bestCat  Category
		bestBase float64
		bestLen  = -1
		found    bool
	)
	for _, p := range patterns {
		loc := p.re.FindString(snippet)
		if loc == "" {
			continue
		}
		if len(loc) > bestLen {
			bestCat, bestBase, bestLen = p.category, p.base, len(loc)
			found = true
		}
	}
	return bestCat, bestBase, found
}

// isIntentional reports whether the occurrence should be preserved rather
// than narrowed. Preservation-worthy categories are only intentional when
// no safer narrower type is proposable in context.
func isIntentional(cat Category, ctx scan.Context, suggestion string) bool {
	switch cat {
	case CategoryErrorHandling:
		return inCatchClause(ctx) && suggestion == ""
	case CategoryLegacyCompat:
		return true
	case CategoryDynamicConfig:
		return !hasStaticShape(ctx) && suggestion == ""
	case CategoryTestMock:
		return ctx.IsInTestFile
	default:
		return false
	}
}

// inCatchClause reports whether the surrounding lines place the occurrence
// inside a catch block.
func inCatchClause(ctx scan.Context) bool {
	for _, line := range ctx.SurroundingLines {
		if strings.Contains(line, "catch") {
			return true
		}
	}
	return strings.Contains(ctx.CodeSnippet, "catch")
}

// hasStaticShape reports whether the surrounding code reads fixed keys off
// the value, implying a describable shape.
func hasStaticShape(ctx scan.Context) bool {
	re := regexp.MustCompile(`\.\w+\s*[=;,)]`)
	for _, line := range ctx.SurroundingLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// defaultSuggestion is the classifier's own coarse proposal; the strategy
// set refines it with contextual inference before anything is applied.
func defaultSuggestion(cat Category) string {
	switch cat {
	case CategoryArrayType:
		return "unknown[]"
	case CategoryRecordType:
		return "Record<string, unknown>"
	case CategoryFunctionParam, CategoryReturnType, CategoryTypeAssertion:
		return "unknown"
	case CategoryExternalAPI:
		return "unknown"
	default:
		return ""
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
