// Package domain infers the coarse subsystem a source file belongs to.
// The domain biases classification and type inference downstream: an "any"
// in astrological calculation code carries different intent than the same
// marker in a UI component or a test fixture.
package domain

import (
	"path/filepath"
	"strings"
)

// Domain is a coarse subsystem label derived from file location and content.
type Domain string

const (
	DomainAstrological Domain = "astrological"
	DomainRecipe       Domain = "recipe"
	DomainCampaign     Domain = "campaign"
	DomainIntelligence Domain = "intelligence"
	DomainService      Domain = "service"
	DomainComponent    Domain = "component"
	DomainUtility      Domain = "utility"
	DomainTest         Domain = "test"
)

// Domains lists every domain in priority order (most specific first).
// The order matters: path matching walks this list and the first domain
// whose keyword produces the longest path match wins.
func Domains() []Domain {
	return []Domain{
		DomainAstrological,
		DomainRecipe,
		DomainCampaign,
		DomainIntelligence,
		DomainService,
		DomainComponent,
		DomainTest,
		DomainUtility,
	}
}

// Context carries everything the classifier needs to know about the
// subsystem an occurrence lives in. Derived deterministically from the
// analyzer input; never mutated after creation.
type Context struct {
	Domain              Domain   `json:"domain"`
	IntentionalityHints []string `json:"intentionality_hints,omitempty"`
	SuggestedTypes      []string `json:"suggested_types,omitempty"`
	PreservationReasons []string `json:"preservation_reasons,omitempty"`
}

// Input is the read-only slice of an occurrence the analyzer inspects.
type Input struct {
	FilePath         string
	CodeSnippet      string
	SurroundingLines []string
	IsTestFile       bool
}

// pathKeywords maps each domain to the path segments that indicate it.
// Longer (more specific) segments win over shorter ones.
var pathKeywords = map[Domain][]string{
	DomainAstrological: {"astrology", "astrological", "celestial", "planetary", "zodiac", "lunar", "transit", "natal", "alchemical", "calculations"},
	DomainRecipe:       {"recipe", "recipes", "ingredient", "ingredients", "cuisine", "cuisines", "cooking", "nutrition", "kitchen"},
	DomainCampaign:     {"campaign", "campaigns", "migration", "lint-fix", "typescript-fix"},
	DomainIntelligence: {"intelligence", "analytics", "prediction", "recommendation", "ml"},
	DomainService:      {"service", "services", "api", "client", "clients", "backend"},
	DomainComponent:    {"component", "components", "pages", "views", "ui", "layout"},
	DomainTest:         {"__tests__", "test", "tests", "spec", "mocks", "fixtures"},
}

// snippetKeywords catches domain signals in the code itself when the path
// is uninformative (flat repos, scratch directories).
var snippetKeywords = map[Domain][]string{
	DomainAstrological: {"planet", "zodiac", "degree", "retrograde", "ephemeris", "elemental"},
	DomainRecipe:       {"recipe", "ingredient", "cuisine", "servings", "nutrition"},
	DomainCampaign:     {"campaign", "batchresult", "rollback", "replacement"},
	DomainIntelligence: {"predict", "recommend", "score", "analyze"},
	DomainService:      {"fetch(", "axios", "response", "endpoint", "apiclient"},
	DomainComponent:    {"props", "usestate", "useeffect", "render(", "jsx"},
}

// Analyze derives a Context from the input. Pure function: no I/O, same
// input always yields the same output. Default domain is utility.
func Analyze(in Input) Context {
	d := matchDomain(in)
	return Context{
		Domain:              d,
		IntentionalityHints: hintsFor(d, in),
		SuggestedTypes:      suggestedTypesFor(d),
		PreservationReasons: preservationReasonsFor(d),
	}
}

// matchDomain selects the domain by path keywords, tie-broken by the most
// specific (longest) matching segment. Test files short-circuit to the
// test domain, and snippet keywords break pure-path ties.
func matchDomain(in Input) Domain {
	if in.IsTestFile {
		return DomainTest
	}

	lowerPath := strings.ToLower(filepath.ToSlash(in.FilePath))

	best := DomainUtility
	bestLen := 0
	for _, d := range Domains() {
		for _, kw := range pathKeywords[d] {
			if strings.Contains(lowerPath, kw) && len(kw) > bestLen {
				best = d
				bestLen = len(kw)
			}
		}
	}
	if bestLen > 0 {
		return best
	}

	// Path gave nothing; look at the code.
	haystack := strings.ToLower(in.CodeSnippet + "\n" + strings.Join(in.SurroundingLines, "\n"))
	for _, d := range Domains() {
		for _, kw := range snippetKeywords[d] {
			if strings.Contains(haystack, kw) && len(kw) > bestLen {
				best = d
				bestLen = len(kw)
			}
		}
	}
	return best
}

// hintsFor returns intentionality hints: signals that the marker may be
// load-bearing in this subsystem. More hints means more ambiguity, which
// lowers classifier confidence.
func hintsFor(d Domain, in Input) []string {
	var hints []string
	switch d {
	case DomainAstrological:
		hints = append(hints, "astronomical library payloads vary by provider")
		if strings.Contains(strings.ToLower(in.CodeSnippet), "position") {
			hints = append(hints, "planetary position shapes differ across ephemeris sources")
		}
	case DomainRecipe:
		hints = append(hints, "recipe data is scraped from heterogeneous sources")
	case DomainCampaign:
		hints = append(hints, "campaign metrics records are intentionally open-shaped")
	case DomainIntelligence:
		hints = append(hints, "analysis payloads vary per algorithm")
	case DomainService:
		hints = append(hints, "external API responses lack local type definitions")
	case DomainTest:
		hints = append(hints, "test doubles commonly use loose typing")
	}

	lower := strings.ToLower(strings.Join(in.SurroundingLines, "\n"))
	if strings.Contains(lower, "catch") {
		hints = append(hints, "error object in catch clause")
	}
	if strings.Contains(lower, "json.parse") {
		hints = append(hints, "parsed JSON has no static shape")
	}
	return hints
}

func suggestedTypesFor(d Domain) []string {
	switch d {
	case DomainAstrological:
		return []string{"PlanetaryPosition", "CelestialBody", "Record<string, PlanetaryPosition>"}
	case DomainRecipe:
		return []string{"Recipe", "Ingredient", "CuisineProfile"}
	case DomainCampaign:
		return []string{"CampaignMetrics", "BatchResult", "TypeReplacement"}
	case DomainIntelligence:
		return []string{"AnalysisResult", "PredictionScore"}
	case DomainService:
		return []string{"ApiResponse<T>", "ServiceResult"}
	case DomainComponent:
		return []string{"React.ReactNode", "ComponentProps"}
	case DomainTest:
		return []string{"jest.Mock", "Partial<T>"}
	default:
		return []string{"unknown", "Record<string, unknown>"}
	}
}

func preservationReasonsFor(d Domain) []string {
	switch d {
	case DomainAstrological:
		return []string{"upstream ephemeris payloads are provider-specific"}
	case DomainCampaign:
		return []string{"campaign tooling inspects arbitrary source constructs"}
	case DomainService:
		return []string{"external API boundary without published types"}
	case DomainTest:
		return []string{"test mocks may intentionally bypass type checks"}
	default:
		return nil
	}
}
