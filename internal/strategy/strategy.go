// Package strategy proposes a concrete narrower type for each classified
// occurrence. One strategy owns one category; strategies are consulted in
// ascending priority and the first whose validator passes is used. Type
// inference here is deliberately shallow: it reads literal usage out of the
// surrounding lines and degrades to a wider safe type when unsure; it never
// errors.
package strategy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"narrowd/internal/classify"
	"narrowd/internal/scan"
)

// Strategy proposes a replacement for one category of occurrence.
type Strategy struct {
	Category classify.Category
	Priority int
	// Validate reports whether the category-specific syntactic
	// precondition holds for this context.
	Validate func(ctx scan.Context) bool
	// Replace returns the proposed narrower type or rewritten fragment.
	Replace func(ctx scan.Context) string
}

// Registry holds exactly one strategy per category, ordered by priority.
type Registry struct {
	ordered []Strategy
	byCat   map[classify.Category]Strategy
}

// NewRegistry builds the full strategy set. A duplicate or missing category
// is a configuration error, caught here rather than at apply time.
func NewRegistry() (*Registry, error) {
	all := builtinStrategies()

	byCat := make(map[classify.Category]Strategy, len(all))
	for _, s := range all {
		if _, dup := byCat[s.Category]; dup {
			return nil, fmt.Errorf("duplicate strategy for category %q", s.Category)
		}
		byCat[s.Category] = s
	}
	for _, cat := range classify.Categories() {
		if _, ok := byCat[cat]; !ok {
			return nil, fmt.Errorf("no strategy registered for category %q", cat)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	return &Registry{ordered: all, byCat: byCat}, nil
}

// Propose returns the replacement text for the occurrence, or ok=false when
// the owning strategy's validator rejects the context. Dispatch is an
// exhaustive switch over the closed category set: a new category that lacks
// a case fails compilation review here, not silently at runtime.
func (r *Registry) Propose(ctx scan.Context, cls classify.Classification) (string, bool) {
	var s Strategy
	switch cls.Category {
	case classify.CategoryArrayType,
		classify.CategoryRecordType,
		classify.CategoryFunctionParam,
		classify.CategoryReturnType,
		classify.CategoryTypeAssertion,
		classify.CategoryTestMock,
		classify.CategoryExternalAPI,
		classify.CategoryDynamicConfig,
		classify.CategoryLegacyCompat,
		classify.CategoryErrorHandling:
		s = r.byCat[cls.Category]
	default:
		return "", false
	}

	if !s.Validate(ctx) {
		return "", false
	}
	return s.Replace(ctx), true
}

// Strategies returns the registered strategies in priority order.
func (r *Registry) Strategies() []Strategy {
	out := make([]Strategy, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func builtinStrategies() []Strategy {
	return []Strategy{
		{
			Category: classify.CategoryArrayType,
			Priority: 1,
			Validate: func(ctx scan.Context) bool {
				return strings.Contains(ctx.CodeSnippet, "any[]") ||
					strings.Contains(ctx.CodeSnippet, "Array<any>")
			},
			Replace: func(ctx scan.Context) string {
				return InferArrayElementType(ctx) + "[]"
			},
		},
		{
			Category: classify.CategoryRecordType,
			Priority: 2,
			Validate: func(ctx scan.Context) bool {
				return recordMarker.MatchString(ctx.CodeSnippet)
			},
			Replace: func(ctx scan.Context) string {
				return "Record<string, " + InferRecordValueType(ctx) + ">"
			},
		},
		{
			Category: classify.CategoryFunctionParam,
			Priority: 3,
			Validate: func(ctx scan.Context) bool {
				return paramMarker.MatchString(ctx.CodeSnippet)
			},
			Replace: func(ctx scan.Context) string {
				return InferValueType(ctx)
			},
		},
		{
			Category: classify.CategoryReturnType,
			Priority: 4,
			Validate: func(ctx scan.Context) bool {
				return returnMarker.MatchString(ctx.CodeSnippet)
			},
			Replace: func(ctx scan.Context) string {
				return InferValueType(ctx)
			},
		},
		{
			Category: classify.CategoryTypeAssertion,
			Priority: 5,
			Validate: func(ctx scan.Context) bool {
				return strings.Contains(ctx.CodeSnippet, "as any") ||
					strings.Contains(ctx.CodeSnippet, "<any>")
			},
			Replace: func(ctx scan.Context) string {
				return "unknown"
			},
		},
		{
			Category: classify.CategoryTestMock,
			Priority: 6,
			// Mocks outside test files are narrowable; inside test
			// files the classifier already marks them intentional.
			Validate: func(ctx scan.Context) bool { return !ctx.IsInTestFile },
			Replace: func(ctx scan.Context) string {
				return "unknown"
			},
		},
		{
			Category: classify.CategoryExternalAPI,
			Priority: 7,
			Validate: func(ctx scan.Context) bool {
				// Only propose when the payload is consumed locally,
				// otherwise the boundary type is genuinely unknown.
				return len(ctx.Domain.SuggestedTypes) > 0
			},
			Replace: func(ctx scan.Context) string {
				return "unknown"
			},
		},
		{
			Category: classify.CategoryDynamicConfig,
			Priority: 8,
			Validate: func(ctx scan.Context) bool {
				// A config object whose keys are read statically has a shape.
				return staticAccess.MatchString(strings.Join(ctx.SurroundingLines, "\n"))
			},
			Replace: func(ctx scan.Context) string {
				return "Record<string, " + InferRecordValueType(ctx) + ">"
			},
		},
		{
			Category: classify.CategoryLegacyCompat,
			Priority: 9,
			Validate: func(ctx scan.Context) bool { return false }, // preserve
			Replace:  func(ctx scan.Context) string { return "" },
		},
		{
			Category: classify.CategoryErrorHandling,
			Priority: 10,
			Validate: func(ctx scan.Context) bool {
				// catch (e: any) narrows safely to unknown.
				return strings.Contains(ctx.CodeSnippet, "catch")
			},
			Replace: func(ctx scan.Context) string {
				return "unknown"
			},
		},
	}
}

var (
	recordMarker = regexp.MustCompile(`Record<\s*string\s*,\s*any\s*>|\{\s*\[key:\s*string\]:\s*any\s*\}`)
	paramMarker  = regexp.MustCompile(`\(\s*[\w.$]+\s*:\s*any[\s,)]`)
	returnMarker = regexp.MustCompile(`\)\s*:\s*any\b|=>\s*any\b`)
	staticAccess = regexp.MustCompile(`\.\w+\s*[=;,)]`)

	numberLiteral  = regexp.MustCompile(`\.push\(\s*-?\d|=\s*\[\s*-?\d|:\s*-?\d+(\.\d+)?[,\s\]]`)
	stringLiteral  = regexp.MustCompile(`\.push\(\s*['"` + "`" + `]|=\s*\[\s*['"` + "`" + `]|:\s*['"` + "`" + `]`)
	booleanLiteral = regexp.MustCompile(`\.push\(\s*(true|false)\b|=\s*\[\s*(true|false)\b`)
	stringMethods  = regexp.MustCompile(`\.(toLowerCase|toUpperCase|trim|split|charAt)\(`)
	numberMethods  = regexp.MustCompile(`\.(toFixed|toPrecision)\(|Math\.\w+\(`)
)

// InferArrayElementType guesses the element type of an any[] by inspecting
// literal usage in the surrounding lines. No signal degrades to unknown.
func InferArrayElementType(ctx scan.Context) string {
	joined := strings.Join(ctx.SurroundingLines, "\n")
	switch {
	case stringLiteral.MatchString(joined) || stringMethods.MatchString(joined):
		return "string"
	case numberLiteral.MatchString(joined) || numberMethods.MatchString(joined):
		return "number"
	case booleanLiteral.MatchString(joined):
		return "boolean"
	default:
		return "unknown"
	}
}

// InferRecordValueType guesses the value type of a string-keyed record.
func InferRecordValueType(ctx scan.Context) string {
	joined := strings.Join(ctx.SurroundingLines, "\n")
	switch {
	case regexp.MustCompile(`\[\s*['"` + "`" + `][\w-]+['"` + "`" + `]\s*\]\s*=\s*-?\d`).MatchString(joined):
		return "number"
	case regexp.MustCompile(`\[\s*['"` + "`" + `][\w-]+['"` + "`" + `]\s*\]\s*=\s*['"` + "`" + `]`).MatchString(joined):
		return "string"
	default:
		return "unknown"
	}
}

// InferValueType guesses a parameter or return type from how the value is
// used around the occurrence.
func InferValueType(ctx scan.Context) string {
	joined := strings.Join(ctx.SurroundingLines, "\n")
	switch {
	case stringMethods.MatchString(joined):
		return "string"
	case numberMethods.MatchString(joined):
		return "number"
	default:
		return "unknown"
	}
}
