package runs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/queue"
	"github.com/proofmesh/proofmesh/shared"
)

// Fill starts a run on one of the candidate circuits when the queue is empty,
// deferring its slice jobs behind anything queued later. It returns the number of jobs queued.
func (c *Coordinator) Fill(ctx context.Context, q queue.Queue, candidates []*shared.Circuit) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	n, err := q.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking queue: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	c.rngMu.Lock()
	circ := candidates[c.rng.Intn(len(candidates))]
	c.rngMu.Unlock()

	record, jobs, err := c.GenerateRun(ctx, circ)
	if err != nil {
		return 0, fmt.Errorf("generating run for %s: %w", circ.ID, err)
	}
	if err := q.Defer(ctx, jobs...); err != nil {
		return 0, errors.Join(fmt.Errorf("queueing slices of run %s: %w", record.ID, err), c.Remove(ctx, record.ID))
	}
	logging.FromContext(ctx).Info("queued slice jobs", zap.String("run", record.ID), zap.Int("slices", len(jobs)))
	return len(jobs), nil
}
