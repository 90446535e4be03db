// Package manager keeps track of the background operations running on the node.
package manager

import (
	"sort"
	"sync"

	"segcompact/internal/compaction"

	"go.uber.org/zap"
)

// Task is a running operation as seen by the manager
type Task interface {
	CompactionInfo() compaction.Info
	Stop()
	IsStopRequested() bool
	Started()
	Finished()
}

// Manager registers running operations and fans out stop requests
type Manager struct {
	mu     sync.RWMutex
	tasks  map[Task]struct{}
	logger *zap.Logger
}

// New creates an empty manager
func New(logger *zap.Logger) *Manager {
	return &Manager{
		tasks:  make(map[Task]struct{}),
		logger: logger,
	}
}

// Begin registers t and raises its severity
func (m *Manager) Begin(t Task) {
	m.mu.Lock()
	m.tasks[t] = struct{}{}
	m.mu.Unlock()

	t.Started()
	m.logger.Debug("Operation started", zap.Stringer("info", t.CompactionInfo()))
}

// Finish retracts t's severity and unregisters it
func (m *Manager) Finish(t Task) {
	t.Finished()

	m.mu.Lock()
	delete(m.tasks, t)
	m.mu.Unlock()

	m.logger.Debug("Operation finished", zap.Stringer("info", t.CompactionInfo()))
}

// Active returns the number of registered operations
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Compactions returns a snapshot of every running operation, ordered by display string
func (m *Manager) Compactions() []compaction.Info {
	m.mu.RLock()
	infos := make([]compaction.Info, 0, len(m.tasks))
	for t := range m.tasks {
		infos = append(infos, t.CompactionInfo())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].String() < infos[j].String() })
	return infos
}

// Summary returns the display string of every running operation
func (m *Manager) Summary() []string {
	infos := m.Compactions()
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.String()
	}
	return out
}

// StopCompaction requests a stop on every running operation of the given type.
// It returns how many operations were asked to stop.
func (m *Manager) StopCompaction(taskType compaction.OperationType) int {
	return m.stopMatching(func(info compaction.Info) bool {
		return info.TaskType() == taskType
	})
}

// StopAll requests a stop on every running operation
func (m *Manager) StopAll() int {
	return m.stopMatching(func(compaction.Info) bool { return true })
}

func (m *Manager) stopMatching(match func(compaction.Info) bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	for t := range m.tasks {
		info := t.CompactionInfo()
		if !match(info) {
			continue
		}
		t.Stop()
		n++
		m.logger.Info("Stop requested", zap.Stringer("info", info))
	}
	return n
}
