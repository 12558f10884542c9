package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/queue"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

const (
	errDuplicateMessage = "Hash already exists"
	errPrepareMessage   = "Error preparing request"
)

var preparedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proofmesh",
	Subsystem: "pipeline",
	Name:      "prepared_total",
	Help:      "Number of requests prepared by job type and result",
}, []string{"type", "result"})

//go:generate mockgen -package mocks -destination mocks/reporter.go . Reporter

// Reporter delivers results to the originators of real-world jobs.
type Reporter interface {
	Report(ctx context.Context, hash string, result shared.JobResult)
}

// Selector chooses circuits and synthesizes benchmark inputs.
type Selector interface {
	Choose(job *shared.QueuedJob) (*shared.Circuit, error)
	Inputs(c *shared.Circuit) ([]byte, error)
}

// Guard deduplicates payloads.
type Guard interface {
	Check(payload []byte) (string, error)
	Forget(hash string)
}

// Pipeline turns queued and synthetic jobs into requests for workers.
type Pipeline struct {
	queue    queue.Queue
	selector Selector
	guard    Guard
	reporter Reporter
}

func New(q queue.Queue, selector Selector, guard Guard, reporter Reporter) *Pipeline {
	return &Pipeline{
		queue:    q,
		selector: selector,
		guard:    guard,
		reporter: reporter,
	}
}

// PrepareBatch prepares one request per worker, omitting workers nothing could be prepared for.
func (p *Pipeline) PrepareBatch(ctx context.Context, workers []shared.WorkerInfo) []*shared.Request {
	requests := make([]*shared.Request, 0, len(workers))
	for _, w := range workers {
		if req := p.PrepareNext(ctx, w); req != nil {
			requests = append(requests, req)
		}
	}
	return requests
}

// PrepareNext builds the next request for a worker. Queued jobs take priority over benchmarks.
// It returns nil if no request could be prepared. Failures never escape: they are logged and,
// for real-world jobs, reported to the originator.
func (p *Pipeline) PrepareNext(ctx context.Context, worker shared.WorkerInfo) (req *shared.Request) {
	logger := logging.FromContext(ctx).Named("pipeline").With(zap.String("worker", worker.Identity))
	var job *shared.QueuedJob
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while preparing request", zap.Any("panic", r), zap.Stack("stack"))
			p.reportFailure(ctx, job, errPrepareMessage)
			req = nil
		}
	}()

	job, err := p.queue.Pop(ctx)
	if err != nil {
		logger.Warn("failed to pop queued job, falling back to benchmark", zap.Error(err))
		job = nil
	}

	req, err = p.prepare(ctx, worker, job)
	switch {
	case err == nil:
		preparedMetric.WithLabelValues(req.Type.String(), "ok").Inc()
		logger.Debug("prepared request", zap.Object("request", req))
		return req
	case errors.Is(err, types.ErrDuplicateJob):
		preparedMetric.WithLabelValues(jobType(job).String(), "duplicate").Inc()
		logger.Info("duplicate job dropped", zap.Error(err))
		p.reportFailure(ctx, job, errDuplicateMessage)
	default:
		preparedMetric.WithLabelValues(jobType(job).String(), "error").Inc()
		logger.Error("failed to prepare request", zap.Error(err))
		p.reportFailure(ctx, job, errPrepareMessage)
	}
	return nil
}

func (p *Pipeline) prepare(ctx context.Context, worker shared.WorkerInfo, job *shared.QueuedJob) (*shared.Request, error) {
	c, err := p.selector.Choose(job)
	if err != nil {
		return nil, fmt.Errorf("choosing circuit: %w", err)
	}
	t := jobType(job)

	var inputs json.RawMessage
	if job == nil {
		inputs, err = p.selector.Inputs(c)
		if err != nil {
			return nil, fmt.Errorf("generating inputs for %s: %w", c.ID, err)
		}
	} else {
		inputs = job.Inputs
		if job.Retry {
			if hash, err := job.Hash(); err == nil {
				p.guard.Forget(hash)
			}
		}
	}

	hash, err := p.guard.Check(inputs)
	if err != nil {
		return nil, err
	}

	payload, err := buildPayload(t, c, inputs, job)
	if err != nil {
		return nil, fmt.Errorf("building payload: %w", err)
	}

	req := &shared.Request{
		Worker:    worker,
		Type:      t,
		Circuit:   c,
		Route:     shared.RouteFor(t, c),
		Payload:   payload,
		Inputs:    inputs,
		Queued:    job,
		GuardHash: hash,
		Persist:   t == shared.JobRealWorld,
	}
	if t == shared.JobRealWorld {
		req.OriginHash = hash
	}
	if job != nil && job.Slice != nil {
		ref := *job.Slice
		req.Slice = &ref
	}
	return req, nil
}

func buildPayload(t shared.JobType, c *shared.Circuit, inputs json.RawMessage, job *shared.QueuedJob) ([]byte, error) {
	if t == shared.JobSlice {
		if job == nil || job.Slice == nil {
			return nil, errors.New("slice job without slice coordinates")
		}
		return json.Marshal(shared.SliceProof{
			Circuit:  c.ID,
			Inputs:   inputs,
			Outputs:  job.Outputs,
			SliceNum: strconv.Itoa(job.Slice.Index),
			RunUID:   job.Slice.RunID,
		})
	}

	requestType := ""
	if t == shared.JobRealWorld {
		requestType = t.String()
	}
	if c.Kind == shared.KindProofOfWeights {
		return json.Marshal(shared.ProofOfWeights{
			SubnetUID:           c.NetUID,
			VerificationKeyHash: c.ID,
			ProofSystem:         c.ProofSystem,
			Inputs:              inputs,
			RequestType:         requestType,
		})
	}
	return json.Marshal(shared.QueryProof{
		ModelID:     c.ID,
		QueryInput:  inputs,
		RequestType: requestType,
	})
}

func (p *Pipeline) reportFailure(ctx context.Context, job *shared.QueuedJob, msg string) {
	if job == nil || job.Type != shared.JobRealWorld || p.reporter == nil {
		return
	}
	hash, err := job.Hash()
	if err != nil {
		logging.FromContext(ctx).Warn("cannot report failure of job with invalid inputs", zap.Error(err))
		return
	}
	p.reporter.Report(ctx, hash, shared.JobResult{Success: false, Error: msg})
}

func jobType(job *shared.QueuedJob) shared.JobType {
	if job == nil {
		return shared.JobBenchmark
	}
	return job.Type
}
