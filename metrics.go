package rulecheck

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects pipeline counters.
// All methods are safe for concurrent use.
type Metrics struct {
	runsTotal    atomic.Uint64
	runsPassed   atomic.Uint64
	runsRejected atomic.Uint64
	runsFailed   atomic.Uint64

	runTimeTotal atomic.Uint64
	runTimeMax   atomic.Uint64

	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	phases sync.Map // map[string]*phaseMetrics
}

type phaseMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64
	findings    atomic.Uint64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRun records a completed run and its result counts.
func (m *Metrics) RecordRun(duration time.Duration, result *Result) {
	m.runsTotal.Add(1)
	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations are non-negative
	m.runTimeTotal.Add(ns)
	for {
		cur := m.runTimeMax.Load()
		if ns <= cur || m.runTimeMax.CompareAndSwap(cur, ns) {
			break
		}
	}
	if result == nil {
		return
	}
	if result.Passed {
		m.runsPassed.Add(1)
	}
	m.errorsTotal.Add(uint64(result.Counts.Error))     //nolint:gosec // counts are non-negative
	m.warningsTotal.Add(uint64(result.Counts.Warning)) //nolint:gosec // counts are non-negative
	m.infosTotal.Add(uint64(result.Counts.Info))       //nolint:gosec // counts are non-negative
}

// RecordRejected records a run rejected on a precondition failure.
func (m *Metrics) RecordRejected() {
	m.runsTotal.Add(1)
	m.runsRejected.Add(1)
}

// RecordFailed records a run that was cancelled or timed out.
func (m *Metrics) RecordFailed() {
	m.runsTotal.Add(1)
	m.runsFailed.Add(1)
}

// RecordPhase records the duration and raw finding count of one phase.
func (m *Metrics) RecordPhase(name string, duration time.Duration, findings int) {
	pm := m.phase(name)
	pm.invocations.Add(1)
	pm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // durations are non-negative
	pm.findings.Add(uint64(findings))                //nolint:gosec // counts are non-negative
}

func (m *Metrics) phase(name string) *phaseMetrics {
	if v, ok := m.phases.Load(name); ok {
		return v.(*phaseMetrics)
	}
	actual, _ := m.phases.LoadOrStore(name, &phaseMetrics{})
	return actual.(*phaseMetrics)
}

// RunsTotal returns the number of runs attempted.
func (m *Metrics) RunsTotal() uint64 { return m.runsTotal.Load() }

// RunsPassed returns the number of runs whose result passed.
func (m *Metrics) RunsPassed() uint64 { return m.runsPassed.Load() }

// PhaseStats holds aggregated statistics for one phase.
type PhaseStats struct {
	Name        string        `json:"name"`
	Invocations uint64        `json:"invocations"`
	TotalTime   time.Duration `json:"total_time_ns"`
	AvgTime     time.Duration `json:"avg_time_ns"`
	Findings    uint64        `json:"findings"`
}

// PhaseStats returns statistics for a specific phase.
func (m *Metrics) PhaseStats(name string) (PhaseStats, bool) {
	v, ok := m.phases.Load(name)
	if !ok {
		return PhaseStats{Name: name}, false
	}
	return v.(*phaseMetrics).stats(name), true
}

func (pm *phaseMetrics) stats(name string) PhaseStats {
	invocations := pm.invocations.Load()
	total := pm.totalTime.Load()
	var avg time.Duration
	if invocations > 0 {
		avg = time.Duration(total / invocations) //nolint:gosec // nanoseconds within int64 range
	}
	return PhaseStats{
		Name:        name,
		Invocations: invocations,
		TotalTime:   time.Duration(total), //nolint:gosec // nanoseconds within int64 range
		AvgTime:     avg,
		Findings:    pm.findings.Load(),
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	RunsTotal    uint64  `json:"runs_total"`
	RunsPassed   uint64  `json:"runs_passed"`
	RunsRejected uint64  `json:"runs_rejected"`
	RunsFailed   uint64  `json:"runs_failed"`
	PassRate     float64 `json:"pass_rate"`

	AvgRunTimeNs uint64 `json:"avg_run_time_ns"`
	MaxRunTimeNs uint64 `json:"max_run_time_ns"`

	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	// Phases is sorted by name.
	Phases []PhaseStats `json:"phases,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Timestamp:     time.Now(),
		RunsTotal:     m.runsTotal.Load(),
		RunsPassed:    m.runsPassed.Load(),
		RunsRejected:  m.runsRejected.Load(),
		RunsFailed:    m.runsFailed.Load(),
		MaxRunTimeNs:  m.runTimeMax.Load(),
		ErrorsTotal:   m.errorsTotal.Load(),
		WarningsTotal: m.warningsTotal.Load(),
		InfosTotal:    m.infosTotal.Load(),
	}
	// Rejected and failed runs carry no timing.
	if completed := s.RunsTotal - s.RunsRejected - s.RunsFailed; completed > 0 {
		s.AvgRunTimeNs = m.runTimeTotal.Load() / completed
		s.PassRate = float64(s.RunsPassed) / float64(completed)
	}
	m.phases.Range(func(key, value any) bool {
		s.Phases = append(s.Phases, value.(*phaseMetrics).stats(key.(string)))
		return true
	})
	sort.Slice(s.Phases, func(i, j int) bool { return s.Phases[i].Name < s.Phases[j].Name })
	return s
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.runsTotal.Store(0)
	m.runsPassed.Store(0)
	m.runsRejected.Store(0)
	m.runsFailed.Store(0)
	m.runTimeTotal.Store(0)
	m.runTimeMax.Store(0)
	m.errorsTotal.Store(0)
	m.warningsTotal.Store(0)
	m.infosTotal.Store(0)
	m.phases.Range(func(key, _ any) bool {
		m.phases.Delete(key)
		return true
	})
}
