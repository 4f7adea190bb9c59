package replace

import (
	"regexp"
	"strings"

	"narrowd/internal/classify"
	"narrowd/internal/scan"
)

// Category risk weights applied on top of classifier confidence. Structural
// rewrites (arrays, records) are mechanically safer than touching error
// paths, and test files tolerate more churn than production code.
const (
	structuralBoost      = 0.1
	errorHandlingPenalty = 0.2
	testFileBoost        = 0.1
)

// SafetyScore converts a raw classifier confidence into the risk-adjusted
// score the replacer gates on, clamped to [0,1].
func SafetyScore(confidence float64, category classify.Category, isTestFile bool) float64 {
	score := confidence
	switch category {
	case classify.CategoryArrayType, classify.CategoryRecordType:
		score += structuralBoost
	case classify.CategoryErrorHandling:
		score -= errorHandlingPenalty
	}
	if isTestFile {
		score += testFileBoost
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Plan builds a TypeReplacement from a classified occurrence and the
// strategy proposal. This is the only constructor; it guarantees the
// invariant that Confidence carries a safety score, never the raw
// classifier confidence.
func Plan(ctx scan.Context, cls classify.Classification, proposal string) TypeReplacement {
	original, replacement := editFor(ctx.CodeSnippet, proposal)
	return TypeReplacement{
		Original:           original,
		Replacement:        replacement,
		FilePath:           ctx.FilePath,
		LineNumber:         ctx.LineNumber,
		Confidence:         SafetyScore(cls.Confidence, cls.Category, ctx.IsInTestFile),
		ValidationRequired: true,
		Category:           cls.Category,
		IsTestFile:         ctx.IsInTestFile,
	}
}

var recordAny = regexp.MustCompile(`Record<\s*string\s*,\s*any\s*>`)

// editFor translates a type proposal into the literal original/replacement
// pair for the marker actually present on the line. Markers are matched
// from most to least specific so "any[]" never degrades into a bare "any"
// substitution.
func editFor(snippet, proposal string) (string, string) {
	switch {
	case strings.Contains(snippet, "any[]"):
		if !strings.HasSuffix(proposal, "[]") {
			proposal += "[]"
		}
		return "any[]", proposal
	case strings.Contains(snippet, "Array<any>"):
		return "Array<any>", "Array<" + strings.TrimSuffix(proposal, "[]") + ">"
	case recordAny.MatchString(snippet):
		if !strings.HasPrefix(proposal, "Record<") {
			proposal = "Record<string, " + proposal + ">"
		}
		return recordAny.FindString(snippet), proposal
	case strings.Contains(snippet, "as any"):
		return "as any", "as " + proposal
	case strings.Contains(snippet, "<any>"):
		return "<any>", "<" + proposal + ">"
	default:
		return ": any", ": " + proposal
	}
}
