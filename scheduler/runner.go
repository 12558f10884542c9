package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/logging"
)

// Task is one periodic job with its own cadence.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once on start instead of waiting for the first interval.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Runner runs tasks on independent tickers until the context is canceled.
// A failing or panicking task iteration is logged and the task runs again on its next tick.
type Runner struct {
	tasks []Task
}

func NewRunner(tasks ...Task) *Runner {
	return &Runner{tasks: tasks}
}

// Run starts every task, or none if any task is invalid.
func (r *Runner) Run(ctx context.Context) error {
	for _, task := range r.tasks {
		if task.Interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", task.Name)
		}
	}
	var eg errgroup.Group
	for _, task := range r.tasks {
		task := task
		eg.Go(func() error {
			r.loop(ctx, task)
			return nil
		})
	}
	return eg.Wait()
}

func (r *Runner) loop(ctx context.Context, task Task) {
	logger := logging.FromContext(ctx).Named(task.Name)
	ctx = logging.NewContext(ctx, logger)
	if task.Immediate {
		runOnce(ctx, task)
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, task)
		}
	}
}

func runOnce(ctx context.Context, task Task) {
	logger := logging.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	if err := task.Run(ctx); err != nil {
		logger.Error("task failed", zap.Error(err))
	}
}
