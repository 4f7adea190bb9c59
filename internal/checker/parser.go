package checker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one structured error from the checker.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

func (d Diagnostic) String() string {
	if d.File != "" {
		return fmt.Sprintf("%s(%d,%d): %s %s", d.File, d.Line, d.Column, d.Code, d.Message)
	}
	return d.Message
}

// ParseOutcome is the tagged result of parsing checker output. Structured
// parsing either succeeds (Structured=true) or the parser falls back to the
// "error "-prefixed-line convention, recording why in FallbackReason.
// Parsing never fails outright; worst case Diagnostics is empty.
type ParseOutcome struct {
	Structured     bool
	FallbackReason string
	Diagnostics    []Diagnostic
}

// tscDiagnostic matches the machine-readable tsc format:
//
//	src/foo.ts(12,5): error TS2304: Cannot find name 'Bar'.
var tscDiagnostic = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.*)$`)

// errorLine is the loose convention used as a fallback: any line whose
// content starts with (or contains) an "error " marker.
var errorLine = regexp.MustCompile(`(?i)(?:^|\s)error[ :]`)

// ParseDiagnostics extracts error diagnostics from raw checker output.
// It first attempts the structured per-line format; when no line matches
// it, the loose "error "-line scan is used as a documented fallback.
func ParseDiagnostics(raw string) ParseOutcome {
	lines := strings.Split(raw, "\n")

	var structured []Diagnostic
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		m := tscDiagnostic.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		structured = append(structured, Diagnostic{
			File:    m[1],
			Line:    lineNo,
			Column:  col,
			Code:    m[4],
			Message: m[5],
			Raw:     line,
		})
	}
	if len(structured) > 0 {
		return ParseOutcome{Structured: true, Diagnostics: structured}
	}

	var loose []Diagnostic
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		if errorLine.MatchString(line) {
			loose = append(loose, Diagnostic{Message: line, Raw: line})
		}
	}
	reason := ""
	if len(loose) > 0 {
		reason = "no structured diagnostics found; used error-line scan"
	}
	return ParseOutcome{Structured: false, FallbackReason: reason, Diagnostics: loose}
}
