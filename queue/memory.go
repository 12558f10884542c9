package queue

import (
	"context"
	"sync"

	"github.com/proofmesh/proofmesh/shared"
)

// Memory is an in-process Queue.
type Memory struct {
	mu   sync.Mutex
	jobs []*shared.QueuedJob
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Push(_ context.Context, jobs ...*shared.QueuedJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, jobs...)
	depthMetric.WithLabelValues("memory").Set(float64(len(m.jobs)))
	return nil
}

func (m *Memory) Defer(_ context.Context, jobs ...*shared.QueuedJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// the last deferred job is the last one popped
	bottom := make([]*shared.QueuedJob, 0, len(jobs)+len(m.jobs))
	for i := len(jobs) - 1; i >= 0; i-- {
		bottom = append(bottom, jobs[i])
	}
	m.jobs = append(bottom, m.jobs...)
	depthMetric.WithLabelValues("memory").Set(float64(len(m.jobs)))
	return nil
}

func (m *Memory) Pop(_ context.Context) (*shared.QueuedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil, nil
	}
	last := len(m.jobs) - 1
	job := m.jobs[last]
	m.jobs[last] = nil
	m.jobs = m.jobs[:last]
	depthMetric.WithLabelValues("memory").Set(float64(len(m.jobs)))
	return job, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}
