// Package scan locates weakly-typed escape hatches ("any" markers) in a
// TypeScript/JavaScript working tree and packages each hit with enough
// surrounding context for classification.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"narrowd/internal/domain"
)

// Occurrence is one raw scan result: a candidate line for type narrowing.
// Immutable once produced. LineNumber is zero-based.
type Occurrence struct {
	FilePath    string `json:"file_path"`
	LineNumber  int    `json:"line_number"`
	CodeSnippet string `json:"code_snippet"`
}

// Context is the read-only bundle handed to the classifier: the occurrence
// plus surrounding lines, comment signals, test-file membership, and the
// inferred domain. Built once per occurrence.
type Context struct {
	Occurrence
	SurroundingLines   []string       `json:"surrounding_lines"`
	HasExistingComment bool           `json:"has_existing_comment"`
	ExistingComment    string         `json:"existing_comment,omitempty"`
	IsInTestFile       bool           `json:"is_in_test_file"`
	Domain             domain.Context `json:"domain_context"`
}

// markerPatterns match the "any"-like escape hatches we campaign against.
// Order is irrelevant here; the classifier decides what each hit means.
var markerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`:\s*any\b`),
	regexp.MustCompile(`\bany\[\]`),
	regexp.MustCompile(`Array<any>`),
	regexp.MustCompile(`<any>`),
	regexp.MustCompile(`\bas\s+any\b`),
	regexp.MustCompile(`Record<\s*string\s*,\s*any\s*>`),
}

// intentionalCommentMarkers flag a human already looked at this line.
var intentionalCommentMarkers = []string{
	"intentionally",
	"eslint-disable",
	"@ts-ignore",
	"@ts-expect-error",
	"deliberate",
}

var sourceExtensions = map[string]bool{
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
}

var skipDirs = map[string]bool{
	".git":         true,
	".narrowd":     true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// Scanner walks a working tree and reports marker occurrences.
type Scanner struct {
	root             string
	surroundingLines int
	maxWorkers       int
	log              *zap.Logger
}

// NewScanner creates a scanner rooted at root. surroundingLines controls
// how many lines of context are captured above and below each occurrence.
func NewScanner(root string, surroundingLines int, log *zap.Logger) *Scanner {
	if surroundingLines <= 0 {
		surroundingLines = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{
		root:             root,
		surroundingLines: surroundingLines,
		maxWorkers:       8,
		log:              log,
	}
}

// Scan walks the tree and returns every marker occurrence, ordered by file
// path then line number. File reads run on a bounded worker pool; a single
// unreadable file fails the scan rather than silently dropping results.
func (s *Scanner) Scan(ctx context.Context) ([]Occurrence, error) {
	var files []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if skipDirs[name] || (strings.HasPrefix(name, ".") && name != ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExtensions[filepath.Ext(path)] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.root, err)
	}

	s.log.Debug("scan walk complete", zap.Int("files", len(files)))

	var (
		mu   sync.Mutex
		occs []Occurrence
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits, err := scanFile(path)
			if err != nil {
				return err
			}
			if len(hits) > 0 {
				mu.Lock()
				occs = append(occs, hits...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(occs, func(i, j int) bool {
		if occs[i].FilePath != occs[j].FilePath {
			return occs[i].FilePath < occs[j].FilePath
		}
		return occs[i].LineNumber < occs[j].LineNumber
	})

	s.log.Info("scan complete", zap.Int("occurrences", len(occs)))
	return occs, nil
}

func scanFile(path string) ([]Occurrence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var occs []Occurrence
	for i, line := range strings.Split(string(data), "\n") {
		for _, re := range markerPatterns {
			if re.MatchString(line) {
				occs = append(occs, Occurrence{
					FilePath:    path,
					LineNumber:  i,
					CodeSnippet: strings.TrimRight(line, "\r"),
				})
				break
			}
		}
	}
	return occs, nil
}

// BuildContext reads the occurrence's file and assembles the classification
// context: surrounding lines, comment signals, test membership, and domain.
func (s *Scanner) BuildContext(occ Occurrence) (Context, error) {
	data, err := os.ReadFile(occ.FilePath)
	if err != nil {
		return Context{}, fmt.Errorf("reading %s: %w", occ.FilePath, err)
	}
	lines := strings.Split(string(data), "\n")
	if occ.LineNumber < 0 || occ.LineNumber >= len(lines) {
		return Context{}, fmt.Errorf("line %d out of range for %s (%d lines)",
			occ.LineNumber, occ.FilePath, len(lines))
	}

	lo := max(0, occ.LineNumber-s.surroundingLines)
	hi := min(len(lines), occ.LineNumber+s.surroundingLines+1)
	surrounding := make([]string, hi-lo)
	copy(surrounding, lines[lo:hi])

	comment, hasComment := findExistingComment(lines, occ.LineNumber)
	isTest := IsTestFile(occ.FilePath)

	dctx := domain.Analyze(domain.Input{
		FilePath:         occ.FilePath,
		CodeSnippet:      occ.CodeSnippet,
		SurroundingLines: surrounding,
		IsTestFile:       isTest,
	})

	return Context{
		Occurrence:         occ,
		SurroundingLines:   surrounding,
		HasExistingComment: hasComment,
		ExistingComment:    comment,
		IsInTestFile:       isTest,
		Domain:             dctx,
	}, nil
}

// BuildContexts builds the classification context for each occurrence,
// preserving order. A single unreadable file aborts the build.
func (s *Scanner) BuildContexts(occs []Occurrence) ([]Context, error) {
	ctxs := make([]Context, 0, len(occs))
	for _, occ := range occs {
		c, err := s.BuildContext(occ)
		if err != nil {
			return nil, err
		}
		ctxs = append(ctxs, c)
	}
	return ctxs, nil
}

// findExistingComment reports an explanatory comment on the occurrence line
// or the line directly above it.
func findExistingComment(lines []string, lineNo int) (string, bool) {
	candidates := []string{lines[lineNo]}
	if lineNo > 0 {
		candidates = append(candidates, lines[lineNo-1])
	}
	for _, line := range candidates {
		idx := strings.Index(line, "//")
		if idx < 0 {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
				idx = 0
				line = trimmed
			} else {
				continue
			}
		}
		comment := strings.TrimSpace(line[idx:])
		lower := strings.ToLower(comment)
		for _, marker := range intentionalCommentMarkers {
			if strings.Contains(lower, marker) {
				return comment, true
			}
		}
	}
	return "", false
}

// IsTestFile reports whether a path belongs to test code.
func IsTestFile(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	if strings.Contains(p, ".test.") || strings.Contains(p, ".spec.") {
		return true
	}
	for _, seg := range []string{"/__tests__/", "/test/", "/tests/", "/__mocks__/"} {
		if strings.Contains(p, seg) {
			return true
		}
	}
	return false
}
