// Package monitor samples campaign and build health on a fixed-period
// timer, emits de-duplicated alerts, and serves a queryable dashboard
// snapshot. The monitor only reads repository state; alert and stability
// histories are append-only, bounded, and written by the monitor alone.
package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert type names. De-duplication keys on these.
const (
	AlertLowSuccessRate      = "low_success_rate"
	AlertLowAccuracy         = "low_accuracy"
	AlertProgressStall       = "progress_stall"
	AlertSafetyEvents        = "safety_events"
	AlertBuildFailure        = "build_failure"
	AlertConsecutiveFailures = "consecutive_build_failures"
)

// dedupWindow suppresses a repeated alert type within this span.
const dedupWindow = time.Hour

// Alert is one emitted condition. Appended to a bounded history; duplicates
// of the same type within the dedup window are suppressed before emission.
type Alert struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func newAlert(alertType string, severity Severity, message string, data map[string]any) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// BuildStabilityRecord is one stability probe outcome. A timeout is
// recorded as unstable.
type BuildStabilityRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	IsStable     bool          `json:"is_stable"`
	BuildTime    time.Duration `json:"build_time"`
	ErrorCount   int           `json:"error_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// HealthStatus buckets the numeric health score.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// healthScore starts at 100 and is penalized per critical alert (-20), per
// high alert (-10), and per alert in the last 24 hours (-2), clamped to
// [0,100].
func healthScore(alerts []Alert, now time.Time) int {
	score := 100
	dayAgo := now.Add(-24 * time.Hour)
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			score -= 20
		case SeverityHigh:
			score -= 10
		}
		if a.Timestamp.After(dayAgo) {
			score -= 2
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func healthStatus(score int) HealthStatus {
	switch {
	case score >= 80:
		return HealthHealthy
	case score >= 60:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// AlertSummary is the dashboard's view of recent alerting.
type AlertSummary struct {
	Total      int              `json:"total"`
	Last24h    int              `json:"last_24h"`
	BySeverity map[Severity]int `json:"by_severity"`
	Latest     *Alert           `json:"latest,omitempty"`
}

func summarizeAlerts(alerts []Alert, now time.Time) AlertSummary {
	summary := AlertSummary{
		Total:      len(alerts),
		BySeverity: make(map[Severity]int),
	}
	dayAgo := now.Add(-24 * time.Hour)
	for i := range alerts {
		summary.BySeverity[alerts[i].Severity]++
		if alerts[i].Timestamp.After(dayAgo) {
			summary.Last24h++
		}
	}
	if len(alerts) > 0 {
		latest := alerts[len(alerts)-1]
		summary.Latest = &latest
	}
	return summary
}

// consecutiveFailures counts the trailing run of unstable records.
func consecutiveFailures(records []BuildStabilityRecord) int {
	count := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsStable {
			break
		}
		count++
	}
	return count
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}
