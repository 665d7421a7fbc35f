// Package metrics tracks admission-gate decisions per endpoint class.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks gating statistics. Class names are bounded by
// configuration, so per-class cardinality stays small.
type Metrics struct {
	totalDecisions   atomic.Int64
	allowedDecisions atomic.Int64
	blockedDecisions atomic.Int64

	mu         sync.RWMutex
	classStats map[string]*ClassStats
	startTime  time.Time
}

// ClassStats tracks decisions for one endpoint class.
type ClassStats struct {
	Class         string    `json:"class"`
	Total         int64     `json:"total"`
	Allowed       int64     `json:"allowed"`
	Blocked       int64     `json:"blocked"`
	LastDecision  time.Time `json:"last_decision"`
	FirstDecision time.Time `json:"first_decision"`
}

// New creates a metrics tracker.
func New() *Metrics {
	return &Metrics{
		classStats: make(map[string]*ClassStats),
		startTime:  time.Now(),
	}
}

// RecordDecision records one gate decision. Implements throttle.Recorder.
func (m *Metrics) RecordDecision(class string, allowed bool) {
	m.totalDecisions.Add(1)
	if allowed {
		m.allowedDecisions.Add(1)
	} else {
		m.blockedDecisions.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.classStats[class]
	if !exists {
		stats = &ClassStats{
			Class:         class,
			FirstDecision: time.Now(),
		}
		m.classStats[class] = stats
	}

	stats.Total++
	if allowed {
		stats.Allowed++
	} else {
		stats.Blocked++
	}
	stats.LastDecision = time.Now()
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Total         int64         `json:"total"`
	Allowed       int64         `json:"allowed"`
	Blocked       int64         `json:"blocked"`
	Classes       []*ClassStats `json:"classes"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     time.Time     `json:"start_time"`
}

// GetSnapshot returns a snapshot of current metrics, classes sorted by
// total decisions descending.
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	classes := make([]*ClassStats, 0, len(m.classStats))
	for _, stats := range m.classStats {
		copied := *stats
		classes = append(classes, &copied)
	}
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].Total > classes[j].Total
	})

	uptime := time.Since(m.startTime)

	return &Snapshot{
		Total:         m.totalDecisions.Load(),
		Allowed:       m.allowedDecisions.Load(),
		Blocked:       m.blockedDecisions.Load(),
		Classes:       classes,
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     m.startTime,
	}
}
