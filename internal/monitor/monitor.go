package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"narrowd/internal/analysis"
	"narrowd/internal/checker"
	"narrowd/internal/history"
	"narrowd/internal/store"
)

// StabilityProbe runs the compiler to assess build health. Satisfied by
// *checker.Runner.
type StabilityProbe interface {
	Check(ctx context.Context) (*checker.Result, error)
}

// ReportSource produces the latest aggregator report. Optional.
type ReportSource interface {
	CurrentReport(ctx context.Context) (*analysis.Report, error)
}

// MetricsSource reads persisted campaign history for trending and
// safety-event frequency. Satisfied by *store.CampaignStore. Optional.
type MetricsSource interface {
	RecentSnapshots(limit int) ([]store.ProgressSnapshot, error)
	RecentBatches(limit int) ([]store.BatchRecord, error)
}

// Options tune alert thresholds and the sampling period.
type Options struct {
	Interval                time.Duration
	SuccessRateThreshold    float64 // percent
	AccuracyThreshold       float64 // percent
	StallWindow             time.Duration
	ConsecutiveFailureLimit int
	SafetyEventLimit        int // rollbacks per 24h before alerting
}

// DefaultOptions returns the thresholds used when a field is zero.
func DefaultOptions() Options {
	return Options{
		Interval:                5 * time.Minute,
		SuccessRateThreshold:    70,
		AccuracyThreshold:       70,
		StallWindow:             4 * time.Hour,
		ConsecutiveFailureLimit: 3,
		SafetyEventLimit:        5,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.SuccessRateThreshold <= 0 {
		o.SuccessRateThreshold = def.SuccessRateThreshold
	}
	if o.AccuracyThreshold <= 0 {
		o.AccuracyThreshold = def.AccuracyThreshold
	}
	if o.StallWindow <= 0 {
		o.StallWindow = def.StallWindow
	}
	if o.ConsecutiveFailureLimit <= 0 {
		o.ConsecutiveFailureLimit = def.ConsecutiveFailureLimit
	}
	if o.SafetyEventLimit <= 0 {
		o.SafetyEventLimit = def.SafetyEventLimit
	}
	return o
}

// DashboardSnapshot is the queryable state refreshed on every tick.
type DashboardSnapshot struct {
	GeneratedAt   time.Time             `json:"generated_at"`
	Report        *analysis.Report      `json:"report,omitempty"`
	LastStability *BuildStabilityRecord `json:"last_stability,omitempty"`
	Trend         *analysis.Trend       `json:"trend,omitempty"`
	Alerts        AlertSummary          `json:"alerts"`
	HealthScore   int                   `json:"health_score"`
	Health        HealthStatus          `json:"health"`
}

// Monitor owns the periodic sampling loop. At most one tick executes at a
// time: the scheduler skips a tick while the previous one still runs. Ticks
// are serialized against replacement transactions through the shared gate.
type Monitor struct {
	opts    Options
	probe   StabilityProbe
	reports ReportSource
	metrics MetricsSource
	gate    *sync.Mutex

	alerts    *history.Log[Alert]
	stability *history.Log[BuildStabilityRecord]

	cron    *cron.Cron
	entryID cron.EntryID
	started bool

	mu           sync.RWMutex
	snapshot     *DashboardSnapshot
	lastProgress float64
	lastChangeAt time.Time

	log *zap.Logger
}

// New wires a monitor. probe is required; reports and metrics are optional
// (their alert conditions are skipped when absent). gate serializes ticks
// against the replacer; pass the replacer's mutex or nil for standalone use.
func New(opts Options, probe StabilityProbe, reports ReportSource, metrics MetricsSource,
	alerts *history.Log[Alert], stability *history.Log[BuildStabilityRecord],
	gate *sync.Mutex, log *zap.Logger) (*Monitor, error) {

	if probe == nil {
		return nil, fmt.Errorf("stability probe is required")
	}
	if alerts == nil || stability == nil {
		return nil, fmt.Errorf("alert and stability histories are required")
	}
	if gate == nil {
		gate = &sync.Mutex{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Monitor{
		opts:         opts.withDefaults(),
		probe:        probe,
		reports:      reports,
		metrics:      metrics,
		gate:         gate,
		alerts:       alerts,
		stability:    stability,
		lastChangeAt: time.Now(),
		lastProgress: -1,
		log:          log,
	}, nil
}

// Start begins periodic ticks. SkipIfStillRunning guarantees ticks never
// overlap; a slow probe delays the next sample instead of stacking up.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("monitor already started")
	}

	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	m.entryID = m.cron.Schedule(cron.Every(m.opts.Interval), cron.FuncJob(m.Tick))
	m.cron.Start()
	m.started = true
	m.log.Info("monitor started", zap.Duration("interval", m.opts.Interval))
	return nil
}

// Stop halts the timer and waits for any in-flight tick. No alert is
// emitted after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.started = false
	m.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.log.Info("monitor stopped")
}

// Snapshot returns the latest dashboard snapshot, or nil before the first
// tick.
func (m *Monitor) Snapshot() *DashboardSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil
	}
	snap := *m.snapshot
	return &snap
}

// Alerts returns a copy of the alert history, oldest first.
func (m *Monitor) Alerts() []Alert {
	return m.alerts.Items()
}

// StabilityHistory returns a copy of the build stability history.
func (m *Monitor) StabilityHistory() []BuildStabilityRecord {
	return m.stability.Items()
}

// Tick runs one monitoring pass: probe build stability, refresh the
// dashboard snapshot, and evaluate alert conditions. Exported so callers
// can force an immediate sample (e.g. the status command).
func (m *Monitor) Tick() {
	// Serialize against replacement transactions; a probe observing a
	// mid-transaction tree would record a false instability.
	m.gate.Lock()
	defer m.gate.Unlock()

	ctx := context.Background()
	now := time.Now()

	rec := m.probeStability(ctx)
	m.stability.Append(rec)

	var report *analysis.Report
	if m.reports != nil {
		var err error
		report, err = m.reports.CurrentReport(ctx)
		if err != nil {
			m.log.Warn("report refresh failed", zap.Error(err))
			report = nil
		}
	}

	var trend *analysis.Trend
	if m.metrics != nil {
		if snaps, err := m.metrics.RecentSnapshots(50); err == nil && len(snaps) > 0 {
			t := analysis.NewAggregator(m.log).ProjectTrend(snaps, 100)
			trend = &t
		}
	}

	m.evaluateAlerts(rec, report, now)

	alerts := m.alerts.Items()
	score := healthScore(alerts, now)
	snapshot := &DashboardSnapshot{
		GeneratedAt:   now,
		Report:        report,
		LastStability: &rec,
		Trend:         trend,
		Alerts:        summarizeAlerts(alerts, now),
		HealthScore:   score,
		Health:        healthStatus(score),
	}

	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()

	m.log.Debug("tick complete",
		zap.Bool("stable", rec.IsStable),
		zap.Int("health", score),
		zap.Int("alerts", len(alerts)))
}

// probeStability invokes the compiler once; a probe that cannot run at all
// is recorded as unstable, not skipped.
func (m *Monitor) probeStability(ctx context.Context) BuildStabilityRecord {
	result, err := m.probe.Check(ctx)
	if err != nil {
		return BuildStabilityRecord{
			Timestamp:    time.Now(),
			IsStable:     false,
			ErrorCount:   1,
			ErrorMessage: fmt.Sprintf("stability probe failed: %v", err),
		}
	}
	rec := BuildStabilityRecord{
		Timestamp:  time.Now(),
		IsStable:   result.Stable,
		BuildTime:  result.Duration,
		ErrorCount: result.ErrorCount(),
	}
	if result.TimedOut {
		rec.ErrorMessage = "build probe timed out"
	} else if !result.Stable && len(result.Diagnostics) > 0 {
		rec.ErrorMessage = result.Diagnostics[0].String()
	}
	return rec
}

// evaluateAlerts checks every alert condition against the fresh sample.
func (m *Monitor) evaluateAlerts(rec BuildStabilityRecord, report *analysis.Report, now time.Time) {
	if !rec.IsStable {
		m.emit(newAlert(AlertBuildFailure, SeverityHigh,
			fmt.Sprintf("build unstable: %d errors (%s)", rec.ErrorCount, rec.ErrorMessage),
			map[string]any{"error_count": rec.ErrorCount}))

		if streak := consecutiveFailures(m.stability.Items()); streak >= m.opts.ConsecutiveFailureLimit {
			m.emit(newAlert(AlertConsecutiveFailures, SeverityCritical,
				fmt.Sprintf("%d consecutive build failures", streak),
				map[string]any{"count": streak}))
		}
	}

	if report != nil {
		if report.CurrentSuccessRate < m.opts.SuccessRateThreshold {
			m.emit(newAlert(AlertLowSuccessRate, SeverityMedium,
				fmt.Sprintf("success rate %s below threshold %s",
					formatPercent(report.CurrentSuccessRate), formatPercent(m.opts.SuccessRateThreshold)),
				map[string]any{"success_rate": report.CurrentSuccessRate}))
		}
		if report.Accuracy.SampleSize > 0 && report.Accuracy.Percentage < m.opts.AccuracyThreshold {
			m.emit(newAlert(AlertLowAccuracy, SeverityMedium,
				fmt.Sprintf("classification accuracy %s below threshold %s",
					formatPercent(report.Accuracy.Percentage), formatPercent(m.opts.AccuracyThreshold)),
				map[string]any{"accuracy": report.Accuracy.Percentage}))
		}

		// Progress stall: no measurable change for longer than the window.
		progress := report.CurrentSuccessRate
		if progress != m.lastProgress {
			m.lastProgress = progress
			m.lastChangeAt = now
		} else if now.Sub(m.lastChangeAt) > m.opts.StallWindow {
			m.emit(newAlert(AlertProgressStall, SeverityMedium,
				fmt.Sprintf("no campaign progress for %s", now.Sub(m.lastChangeAt).Round(time.Minute)),
				map[string]any{"stalled_since": m.lastChangeAt}))
		}
	}

	if m.metrics != nil {
		if batches, err := m.metrics.RecentBatches(100); err == nil {
			dayAgo := now.Add(-24 * time.Hour)
			rollbacks := 0
			for _, b := range batches {
				if b.RollbackPerformed && b.Timestamp.After(dayAgo) {
					rollbacks++
				}
			}
			if rollbacks >= m.opts.SafetyEventLimit {
				m.emit(newAlert(AlertSafetyEvents, SeverityHigh,
					fmt.Sprintf("%d rollbacks in the last 24h", rollbacks),
					map[string]any{"rollbacks": rollbacks}))
			}
		}
	}
}

// emit appends an alert unless the same type fired within the dedup window.
func (m *Monitor) emit(alert Alert) {
	cutoff := alert.Timestamp.Add(-dedupWindow)
	for _, existing := range m.alerts.Items() {
		if existing.Type == alert.Type && existing.Timestamp.After(cutoff) {
			m.log.Debug("alert suppressed (duplicate within window)",
				zap.String("type", alert.Type))
			return
		}
	}
	m.alerts.Append(alert)
	m.log.Warn("alert emitted",
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message))
}
