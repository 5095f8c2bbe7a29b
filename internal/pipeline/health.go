package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/model"
)

// Status grades one source or the whole report. Sources use HEALTHY,
// WARNING and CRITICAL; the overall report maps WARNING onto DEGRADED.
type Status string

const (
	Healthy  Status = "HEALTHY"
	Warning  Status = "WARNING"
	Degraded Status = "DEGRADED"
	Critical Status = "CRITICAL"
)

// Anomaly categories the scan can raise.
const (
	AnomalyHighVolume        = "HIGH_VOLUME"
	AnomalyHighDuplicates    = "HIGH_DUPLICATES"
	AnomalyStaleData         = "STALE_DATA"
	AnomalySuspiciousQuality = "SUSPICIOUS_QUALITY"
)

// DefaultLookback is how far back the scan reads signal intake.
const DefaultLookback = 30 * 24 * time.Hour

// Scan thresholds. A source suddenly producing hundreds of signals in a day
// is an upstream format change or a runaway collector, not a gold rush, and
// a source whose confidences never vary is scoring on a constant.
const (
	highVolume24h     = 50
	criticalVolume24h = 200

	staleAfterDays           = 30
	criticallyStaleAfterDays = 90

	minConfidenceVariance = 0.1
	varianceSampleMin     = 10

	quietSourceDays = 7

	duplicateKeyFloor    = 10
	staleFloor           = 50
	criticallyStaleFloor = 10
	suspiciousShare      = 0.3
)

// SourceHealth is the scan result for one source API.
type SourceHealth struct {
	SourceName         string   `json:"source_name"`
	SignalCount        int      `json:"signal_count"`
	SignalsLast24h     int      `json:"signals_last_24h"`
	SignalsLast7d      int      `json:"signals_last_7d"`
	AvgConfidence      float64  `json:"avg_confidence"`
	ConfidenceVariance float64  `json:"confidence_variance"`
	OldestSignalDays   int      `json:"oldest_signal_days"`
	NewestSignalDays   int      `json:"newest_signal_days"`
	Status             Status   `json:"status"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Anomaly is one detected problem in the signal flow. Source is empty for
// store-wide anomalies.
type Anomaly struct {
	Type        string    `json:"anomaly_type"`
	Severity    Status    `json:"severity"`
	Source      string    `json:"source,omitempty"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// HealthReport is the complete outcome of one scan.
type HealthReport struct {
	GeneratedAt   time.Time `json:"generated_at"`
	OverallStatus Status    `json:"overall_status"`

	TotalSignals   int `json:"total_signals"`
	TotalSources   int `json:"total_sources"`
	SignalsLast24h int `json:"signals_last_24h"`
	SignalsLast7d  int `json:"signals_last_7d"`

	Sources   map[string]*SourceHealth `json:"source_health"`
	Anomalies []Anomaly                `json:"anomalies,omitempty"`

	StaleSignals           int `json:"stale_signals"`
	CriticallyStaleSignals int `json:"critically_stale_signals"`
	SuspiciousSignals      int `json:"suspicious_signals"`
}

// Unhealthy reports whether the scan found anything worth an operator's
// attention.
func (r HealthReport) Unhealthy() bool {
	return r.OverallStatus != Healthy
}

// AnomalyDescriptions lists every anomaly as one line each, for alerts.
func (r HealthReport) AnomalyDescriptions() []string {
	lines := make([]string, 0, len(r.Anomalies))
	for _, a := range r.Anomalies {
		lines = append(lines, a.Description)
	}
	return lines
}

func (r *HealthReport) addAnomaly(kind string, severity Status, source, description string, now time.Time) {
	r.Anomalies = append(r.Anomalies, Anomaly{
		Type:        kind,
		Severity:    severity,
		Source:      source,
		Description: description,
		DetectedAt:  now,
	})
}

// Summary renders the report for a terminal.
func (r HealthReport) Summary() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "SIGNAL HEALTH REPORT")
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "\nOverall Status: %s\n", r.OverallStatus)
	fmt.Fprintf(&b, "Total Signals: %d\n", r.TotalSignals)
	fmt.Fprintf(&b, "Total Sources: %d\n", r.TotalSources)
	fmt.Fprintf(&b, "Last 24h: %d\n", r.SignalsLast24h)
	fmt.Fprintf(&b, "Last 7d: %d\n", r.SignalsLast7d)

	if len(r.Anomalies) > 0 {
		fmt.Fprintf(&b, "\nANOMALIES DETECTED:\n")
		for _, a := range r.Anomalies {
			fmt.Fprintf(&b, "  [%s] %s\n", a.Severity, a.Type)
			fmt.Fprintf(&b, "    %s\n", a.Description)
			if a.Source != "" {
				fmt.Fprintf(&b, "    Source: %s\n", a.Source)
			}
		}
	}

	fmt.Fprintf(&b, "\nSOURCE HEALTH:\n")
	for _, name := range slices.Sorted(maps.Keys(r.Sources)) {
		h := r.Sources[name]
		fmt.Fprintf(&b, "  %s %s: %d signals\n", statusGlyph(h.Status), name, h.SignalCount)
		for _, w := range h.Warnings {
			fmt.Fprintf(&b, "      %s\n", w)
		}
	}

	if r.StaleSignals > 0 || r.CriticallyStaleSignals > 0 {
		fmt.Fprintf(&b, "\nFRESHNESS:\n")
		fmt.Fprintf(&b, "  Stale signals (>%dd): %d\n", staleAfterDays, r.StaleSignals)
		fmt.Fprintf(&b, "  Critically stale (>%dd): %d\n", criticallyStaleAfterDays, r.CriticallyStaleSignals)
	}
	return b.String()
}

func statusGlyph(s Status) string {
	switch s {
	case Healthy:
		return "✓"
	case Warning:
		return "⚠"
	case Critical:
		return "✗"
	default:
		return "?"
	}
}

// healthStore is the single query the monitor needs.
type healthStore interface {
	GetSignalsSince(ctx context.Context, since time.Time) ([]model.Signal, error)
}

// Monitor grades recent signal intake: volume spikes, quiet sources, stale
// detections, duplicate pile-ups and suspicious confidence patterns.
type Monitor struct {
	store  healthStore
	logger *slog.Logger
}

// NewMonitor builds a health monitor over the signal store.
func NewMonitor(store healthStore, logger *slog.Logger) *Monitor {
	return &Monitor{store: store, logger: logger}
}

// Report scans intake inside the lookback window and grades every source.
// A non-positive lookback takes DefaultLookback. An empty window is a
// healthy report, not an error.
func (m *Monitor) Report(ctx context.Context, lookback time.Duration) (HealthReport, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	now := time.Now().UTC()
	report := HealthReport{
		GeneratedAt:   now,
		OverallStatus: Healthy,
		Sources:       map[string]*SourceHealth{},
	}

	signals, err := m.store.GetSignalsSince(ctx, now.Add(-lookback))
	if err != nil {
		return HealthReport{}, fmt.Errorf("pipeline: health scan: %w", err)
	}
	if len(signals) == 0 {
		m.logger.Info("no signals inside the health window")
		return report, nil
	}
	report.TotalSignals = len(signals)

	m.analyzeSources(signals, &report, now)
	m.checkFreshness(signals, &report, now)
	m.checkQuality(signals, &report)
	m.detectAnomalies(signals, &report, now)
	report.OverallStatus = overallStatus(&report)

	m.logger.Info("health scan finished",
		"status", report.OverallStatus,
		"signals", report.TotalSignals,
		"sources", report.TotalSources,
		"anomalies", len(report.Anomalies))
	return report, nil
}

// analyzeSources computes per-source activity and raises source-level
// warnings. 24h and 7d windows count by ingest time; age stats use the
// detection time so backdated signals read as old, not fresh.
func (m *Monitor) analyzeSources(signals []model.Signal, report *HealthReport, now time.Time) {
	bySource := make(map[string][]model.Signal)
	for _, s := range signals {
		bySource[s.SourceAPI] = append(bySource[s.SourceAPI], s)
	}
	report.TotalSources = len(bySource)

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	for name, group := range bySource {
		h := &SourceHealth{SourceName: name, SignalCount: len(group), Status: Healthy}

		var confidenceSum float64
		for _, s := range group {
			if s.CreatedAt.After(dayAgo) {
				h.SignalsLast24h++
				report.SignalsLast24h++
			}
			if s.CreatedAt.After(weekAgo) {
				h.SignalsLast7d++
				report.SignalsLast7d++
			}
			confidenceSum += s.Confidence
		}
		h.AvgConfidence = confidenceSum / float64(len(group))
		if len(group) > 1 {
			var squares float64
			for _, s := range group {
				d := s.Confidence - h.AvgConfidence
				squares += d * d
			}
			h.ConfidenceVariance = squares / float64(len(group))
		}

		h.OldestSignalDays = ageDays(group[0].DetectedAt, now)
		h.NewestSignalDays = h.OldestSignalDays
		for _, s := range group[1:] {
			age := ageDays(s.DetectedAt, now)
			h.OldestSignalDays = max(h.OldestSignalDays, age)
			h.NewestSignalDays = min(h.NewestSignalDays, age)
		}

		if h.SignalsLast24h > highVolume24h {
			h.Warnings = append(h.Warnings, fmt.Sprintf("High volume: %d signals in 24h", h.SignalsLast24h))
			h.Status = escalate(h.Status, Warning)
		}
		if h.SignalsLast24h > criticalVolume24h {
			h.Warnings = append(h.Warnings, fmt.Sprintf("Critical volume: %d signals in 24h", h.SignalsLast24h))
			h.Status = escalate(h.Status, Critical)
		}
		if len(group) > varianceSampleMin && h.ConfidenceVariance < minConfidenceVariance {
			h.Warnings = append(h.Warnings, fmt.Sprintf("Low confidence variance: %.3f", h.ConfidenceVariance))
			h.Status = escalate(h.Status, Warning)
		}
		if h.NewestSignalDays > quietSourceDays {
			h.Warnings = append(h.Warnings, fmt.Sprintf("No new signals in %d days", h.NewestSignalDays))
			h.Status = escalate(h.Status, Warning)
		}

		report.Sources[name] = h
	}
}

func (m *Monitor) checkFreshness(signals []model.Signal, report *HealthReport, now time.Time) {
	for _, s := range signals {
		switch age := ageDays(s.DetectedAt, now); {
		case age > criticallyStaleAfterDays:
			report.CriticallyStaleSignals++
		case age > staleAfterDays:
			report.StaleSignals++
		}
	}
}

func (m *Monitor) checkQuality(signals []model.Signal, report *HealthReport) {
	for _, s := range signals {
		// Exactly 0, 0.5 or 1.0 usually means a hardcoded score, not a
		// computed one.
		if s.Confidence == 0 || s.Confidence == 0.5 || s.Confidence == 1 {
			report.SuspiciousSignals++
		}
	}
}

func (m *Monitor) detectAnomalies(signals []model.Signal, report *HealthReport, now time.Time) {
	for _, name := range slices.Sorted(maps.Keys(report.Sources)) {
		h := report.Sources[name]
		switch {
		case h.SignalsLast24h > criticalVolume24h:
			report.addAnomaly(AnomalyHighVolume, Critical, name,
				fmt.Sprintf("Source produced %d signals in 24 hours", h.SignalsLast24h), now)
		case h.SignalsLast24h > highVolume24h:
			report.addAnomaly(AnomalyHighVolume, Warning, name,
				fmt.Sprintf("Source produced %d signals in 24 hours", h.SignalsLast24h), now)
		}
	}

	keyCounts := make(map[string]int)
	for _, s := range signals {
		keyCounts[s.Key()]++
	}
	highDupes := 0
	for _, n := range keyCounts {
		if n > duplicateKeyFloor {
			highDupes++
		}
	}
	if highDupes > 0 {
		report.addAnomaly(AnomalyHighDuplicates, Warning, "",
			fmt.Sprintf("Found %d canonical keys with 10+ signals each", highDupes), now)
	}

	switch {
	case report.CriticallyStaleSignals > criticallyStaleFloor:
		report.addAnomaly(AnomalyStaleData, Critical, "",
			fmt.Sprintf("Found %d signals older than %d days", report.CriticallyStaleSignals, criticallyStaleAfterDays), now)
	case report.StaleSignals > staleFloor:
		report.addAnomaly(AnomalyStaleData, Warning, "",
			fmt.Sprintf("Found %d signals older than %d days", report.StaleSignals, staleAfterDays), now)
	}

	if float64(report.SuspiciousSignals) > float64(len(signals))*suspiciousShare {
		report.addAnomaly(AnomalySuspiciousQuality, Warning, "",
			fmt.Sprintf("Found %d signals with suspicious confidence values", report.SuspiciousSignals), now)
	}
}

func overallStatus(report *HealthReport) Status {
	worst := Healthy
	for _, a := range report.Anomalies {
		worst = escalate(worst, a.Severity)
	}
	for _, h := range report.Sources {
		worst = escalate(worst, h.Status)
	}
	switch worst {
	case Critical:
		return Critical
	case Warning:
		return Degraded
	default:
		return Healthy
	}
}

// escalate returns the more severe status. A critical finding is never
// downgraded by a later, milder one.
func escalate(cur, next Status) Status {
	if statusRank(next) > statusRank(cur) {
		return next
	}
	return cur
}

func statusRank(s Status) int {
	switch s {
	case Critical:
		return 2
	case Warning, Degraded:
		return 1
	default:
		return 0
	}
}

func ageDays(t, now time.Time) int {
	return int(now.Sub(t).Hours() / 24)
}
