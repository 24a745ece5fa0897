package world

import "sync"

// SchedulerMetrics tracks coarse operator-facing counters for observability, so an operator can see
// write failures and other scheduler health signals without reading logs line by line.
type SchedulerMetrics struct {
	mu sync.Mutex

	tasksDispatched map[Stage]uint64
	tasksCompleted map[Stage]uint64
	loadMisses uint64
	loadErrors uint64
	writeErrors uint64
	unloads uint64
	queueDepth int
}

// NewSchedulerMetrics returns an empty metrics registry.
func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		tasksDispatched: make(map[Stage]uint64),
		tasksCompleted: make(map[Stage]uint64),
	}
}

func (m *SchedulerMetrics) incDispatched(stage Stage) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tasksDispatched[stage]++
	m.mu.Unlock()
}

func (m *SchedulerMetrics) incCompleted(stage Stage) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tasksCompleted[stage]++
	m.mu.Unlock()
}

func (m *SchedulerMetrics) incLoadMiss() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.loadMisses++
	m.mu.Unlock()
}

func (m *SchedulerMetrics) incLoadError() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.loadErrors++
	m.mu.Unlock()
}

func (m *SchedulerMetrics) incWriteError() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.writeErrors++
	m.mu.Unlock()
}

func (m *SchedulerMetrics) incUnload() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.unloads++
	m.mu.Unlock()
}

func (m *SchedulerMetrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queueDepth = n
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the counters, safe to log or export.
func (m *SchedulerMetrics) Snapshot() SchedulerMetricsSnapshot {
	if m == nil {
		return SchedulerMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return SchedulerMetricsSnapshot{
		TasksDispatched: copyStageCounts(m.tasksDispatched),
		TasksCompleted: copyStageCounts(m.tasksCompleted),
		LoadMisses: m.loadMisses,
		LoadErrors: m.loadErrors,
		WriteErrors: m.writeErrors,
		Unloads: m.unloads,
		QueueDepth: m.queueDepth,
	}
}

func copyStageCounts(src map[Stage]uint64) map[Stage]uint64 {
	out := make(map[Stage]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SchedulerMetricsSnapshot is an immutable point-in-time copy of SchedulerMetrics' counters.
type SchedulerMetricsSnapshot struct {
	TasksDispatched map[Stage]uint64
	TasksCompleted map[Stage]uint64
	LoadMisses uint64
	LoadErrors uint64
	WriteErrors uint64
	Unloads uint64
	QueueDepth int
}
