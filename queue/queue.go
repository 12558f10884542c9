package queue

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/proofmesh/proofmesh/shared"
)

var depthMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "proofmesh",
	Subsystem: "queue",
	Name:      "depth",
	Help:      "Number of jobs waiting in the queue",
}, []string{"backend"})

// Queue holds real-world and slice jobs waiting for a worker.
// Jobs are popped most recent first.
type Queue interface {
	// Push adds jobs on top of the queue.
	Push(ctx context.Context, jobs ...*shared.QueuedJob) error
	// Defer adds jobs at the bottom, behind everything already queued.
	Defer(ctx context.Context, jobs ...*shared.QueuedJob) error
	// Pop atomically removes the top job. It returns nil if the queue is empty.
	Pop(ctx context.Context) (*shared.QueuedJob, error)
	Len(ctx context.Context) (int, error)
}
