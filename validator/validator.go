package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/archive"
	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/pipeline"
	"github.com/proofmesh/proofmesh/queue"
	"github.com/proofmesh/proofmesh/runs"
	"github.com/proofmesh/proofmesh/scheduler"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
	"github.com/proofmesh/proofmesh/verifier"
)

var responsesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proofmesh",
	Subsystem: "validator",
	Name:      "responses_total",
	Help:      "Number of processed responses by outcome",
}, []string{"outcome"})

// Membership provides the network membership seen by the validator.
type Membership interface {
	Refresh(ctx context.Context) (*shared.Snapshot, error)
	Snapshot() *shared.Snapshot
}

// Archiver keeps responses of persisted jobs.
type Archiver interface {
	Save(ctx context.Context, resp *shared.MinerResponse) error
}

// Summary describes one dispatch cycle.
type Summary struct {
	Workers  int
	Requests int
	Passed   int
	Failed   int
	Unset    int
	Requeued int
	// Runs maps the sliced runs completed in this cycle to their digests.
	Runs   map[string][]byte
	Errors *multierror.Error
}

func (s *Summary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("workers", s.Workers)
	enc.AddInt("requests", s.Requests)
	enc.AddInt("passed", s.Passed)
	enc.AddInt("failed", s.Failed)
	enc.AddInt("unset", s.Unset)
	enc.AddInt("requeued", s.Requeued)
	enc.AddInt("completed_runs", len(s.Runs))
	return nil
}

// Validator drives the dispatch cycle: it hands jobs to workers and verifies what comes back.
type Validator struct {
	cfg        Config
	identity   string
	members    Membership
	queue      queue.Queue
	circuits   *circuit.Store
	batcher    Batcher
	pipeline   *pipeline.Pipeline
	verifier   *verifier.Verifier
	runs       *runs.Coordinator
	board      *JobBoard
	capacities *CapacityManager
	archive    Archiver
	closers    []io.Closer

	rngMu sync.Mutex
	rng   *rand.Rand

	apiListener net.Listener
}

type newValidatorOptionFunc func(*Validator)

func WithConfig(cfg Config) newValidatorOptionFunc {
	return func(v *Validator) {
		v.cfg = cfg
	}
}

func WithArchive(a Archiver) newValidatorOptionFunc {
	return func(v *Validator) {
		v.archive = a
	}
}

func WithRand(rng *rand.Rand) newValidatorOptionFunc {
	return func(v *Validator) {
		v.rng = rng
	}
}

func New(
	identity string,
	members Membership,
	q queue.Queue,
	circuits *circuit.Store,
	batcher Batcher,
	proofs types.ProofSystem,
	coordinator *runs.Coordinator,
	guard pipeline.Guard,
	opts ...newValidatorOptionFunc,
) (*Validator, error) {
	v := &Validator{
		cfg:      DefaultConfig(),
		identity: identity,
		members:  members,
		queue:    q,
		circuits: circuits,
		batcher:  batcher,
		runs:     coordinator,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(v)
	}

	board, err := NewJobBoard(q, circuits, v.cfg.ResultsSize)
	if err != nil {
		return nil, err
	}
	if v.archive == nil && v.cfg.ArchiveDir != "" {
		store, err := archive.Open(v.cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		v.archive = store
		v.closers = append(v.closers, store)
	}
	v.board = board
	v.pipeline = pipeline.New(q, circuit.NewSelector(circuits, v.rng), guard, board)
	v.verifier = verifier.New(proofs, coordinator)
	v.capacities = NewCapacityManager(batcher)

	if v.cfg.APIListen != "" {
		v.apiListener, err = net.Listen("tcp", v.cfg.APIListen)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to listen: %w", err), v.Close())
		}
	}
	return v, nil
}

// Close releases the archive opened by New.
func (v *Validator) Close() error {
	var result *multierror.Error
	for _, c := range v.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	v.closers = nil
	return result.ErrorOrNil()
}

func (v *Validator) Board() *JobBoard {
	return v.board
}

func (v *Validator) Capacities() *CapacityManager {
	return v.capacities
}

// APIAddr is the address of the job intake API, nil if it is disabled.
func (v *Validator) APIAddr() net.Addr {
	if v.apiListener == nil {
		return nil
	}
	return v.apiListener.Addr()
}

// workers returns up to BatchSize serving workers in random order.
func (v *Validator) workers(snapshot *shared.Snapshot) []shared.WorkerInfo {
	workers := snapshot.Serving(v.identity)
	v.rngMu.Lock()
	v.rng.Shuffle(len(workers), func(i, j int) {
		workers[i], workers[j] = workers[j], workers[i]
	})
	v.rngMu.Unlock()
	if v.cfg.BatchSize > 0 && len(workers) > v.cfg.BatchSize {
		workers = workers[:v.cfg.BatchSize]
	}
	return workers
}

func (v *Validator) snapshot(ctx context.Context) (*shared.Snapshot, error) {
	snapshot, err := v.members.Refresh(ctx)
	if err == nil {
		return snapshot, nil
	}
	if cached := v.members.Snapshot(); cached != nil {
		logging.FromContext(ctx).Warn("using cached membership", zap.Error(err))
		return cached, nil
	}
	return nil, err
}

// Cycle runs one dispatch round. Failures of single requests are collected in the summary;
// an error is returned only if no round could be run at all.
func (v *Validator) Cycle(ctx context.Context) (*Summary, error) {
	logger := logging.FromContext(ctx)
	snapshot, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{}
	workers := v.workers(snapshot)
	summary.Workers = len(workers)
	if len(workers) == 0 {
		logger.Info("no serving workers")
		return summary, nil
	}

	if _, err := v.runs.Fill(ctx, v.queue, v.circuits.OfKind(shared.KindSliced)); err != nil {
		logger.Warn("failed to start a sliced run", zap.Error(err))
	}

	requests := v.pipeline.PrepareBatch(ctx, workers)
	summary.Requests = len(requests)
	for _, res := range v.batcher.DispatchAll(ctx, requests) {
		resp := v.verifier.Process(ctx, res)
		v.handle(ctx, res.Request, resp, summary)
	}

	logger.Info("cycle complete", zap.Object("summary", summary))
	if err := summary.Errors.ErrorOrNil(); err != nil {
		logger.Debug("cycle failures", zap.Error(err))
	}
	return summary, nil
}

func (v *Validator) handle(ctx context.Context, req *shared.Request, resp *shared.MinerResponse, summary *Summary) {
	logger := logging.FromContext(ctx)
	responsesMetric.WithLabelValues(resp.Outcome.String()).Inc()
	switch resp.Outcome {
	case shared.Passed:
		summary.Passed++
	case shared.Failed:
		summary.Failed++
	default:
		summary.Unset++
	}
	if resp.Err != nil {
		summary.Errors = multierror.Append(summary.Errors, fmt.Errorf("worker %s: %w", resp.Worker.Identity, resp.Err))
	}

	if resp.RunDigest != nil && resp.Slice != nil {
		if summary.Runs == nil {
			summary.Runs = make(map[string][]byte)
		}
		summary.Runs[resp.Slice.RunID] = resp.RunDigest
	}

	if req.Type == shared.JobSlice && (resp.Outcome == shared.Unset || errors.Is(resp.Err, types.ErrEmptyProof)) {
		if v.requeue(ctx, req) {
			summary.Requeued++
		}
	}

	if req.Type == shared.JobRealWorld && req.OriginHash != "" {
		result := shared.JobResult{
			Success:       resp.Verified(),
			Worker:        resp.Worker.Identity,
			Proof:         resp.Artifact,
			PublicSignals: resp.PublicSignals,
		}
		if resp.Err != nil {
			result.Error = resp.Err.Error()
		}
		v.board.Report(ctx, req.OriginHash, result)
	}

	if v.archive != nil {
		if err := v.archive.Save(ctx, resp); err != nil {
			logger.Error("failed to archive response", zap.Object("response", resp), zap.Error(err))
		}
	}
}

// requeue puts a slice job that never reached a worker, or came back without a proof, back on the queue.
// After MaxSliceAttempts the slice is failed, which fails its run.
func (v *Validator) requeue(ctx context.Context, req *shared.Request) bool {
	logger := logging.FromContext(ctx)
	if req.Queued == nil || req.Slice == nil {
		return false
	}
	job := *req.Queued
	job.Attempts++
	if job.Attempts >= v.cfg.MaxSliceAttempts {
		logger.Warn("giving up on slice",
			zap.String("run", req.Slice.RunID),
			zap.Int("slice", req.Slice.Index),
			zap.Int("attempts", job.Attempts),
		)
		if _, err := v.runs.VerifySlice(ctx, req.Slice.RunID, req.Slice.Index, nil); err != nil &&
			!errors.Is(err, types.ErrEmptyProof) {
			logger.Warn("failed to mark slice as failed", zap.Error(err))
		}
		return false
	}
	job.Retry = true
	if err := v.queue.Push(ctx, &job); err != nil {
		logger.Error("failed to requeue slice job", zap.Error(err))
		return false
	}
	return true
}

// SyncCapacities queries the capacities of every serving worker.
func (v *Validator) SyncCapacities(ctx context.Context) error {
	snapshot := v.members.Snapshot()
	if snapshot == nil {
		var err error
		if snapshot, err = v.members.Refresh(ctx); err != nil {
			return err
		}
	}
	v.capacities.Sync(ctx, snapshot.Serving(v.identity))
	return nil
}

// Tasks are the periodic duties of the validator.
func (v *Validator) Tasks() []scheduler.Task {
	return []scheduler.Task{
		{
			Name:      "dispatch",
			Interval:  v.cfg.CycleInterval,
			Immediate: true,
			Run: func(ctx context.Context) error {
				_, err := v.Cycle(ctx)
				return err
			},
		},
		{
			Name:      "capacities",
			Interval:  v.cfg.CapacityInterval,
			Immediate: true,
			Run:       v.SyncCapacities,
		},
	}
}

// Run runs the validator until ctx is canceled, then removes every resident run.
func (v *Validator) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("validator")
	ctx = logging.NewContext(ctx, logger)
	eg, ctx := errgroup.WithContext(ctx)

	runner := scheduler.NewRunner(v.Tasks()...)
	eg.Go(func() error {
		return runner.Run(ctx)
	})

	var server *http.Server
	if v.apiListener != nil {
		server = &http.Server{
			Handler:           v.board.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		eg.Go(func() error {
			logger.Sugar().Infof("job API listening on %s", v.apiListener.Addr())
			err := server.Serve(v.apiListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	<-ctx.Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown job API", zap.Error(err))
		}
	}
	err := eg.Wait()
	if cleanupErr := v.runs.TotalCleanup(ctx); cleanupErr != nil {
		logger.Error("failed to remove runs", zap.Error(cleanupErr))
	}
	return err
}
