package validator_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/admission"
	"github.com/proofmesh/proofmesh/archive"
	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/hashguard"
	"github.com/proofmesh/proofmesh/ledger"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/miner"
	"github.com/proofmesh/proofmesh/proofsys"
	"github.com/proofmesh/proofmesh/queue"
	"github.com/proofmesh/proofmesh/runs"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
	"github.com/proofmesh/proofmesh/validator"
)

func newSigner(t *testing.T) *signing.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := signing.NewSigner(priv)
	require.NoError(t, err)
	return s
}

type network struct {
	ctx      context.Context
	self     *signing.Signer
	ledger   *ledger.Memory
	members  []shared.Member
	circuits *circuit.Store
	queue    *queue.Memory
	runs     *runs.Coordinator
}

func newNetwork(t *testing.T, circuits ...*shared.Circuit) *network {
	t.Helper()
	self := newSigner(t)
	store, err := circuit.NewStore(circuits...)
	require.NoError(t, err)
	n := &network{
		ctx:      logging.NewContext(context.Background(), zaptest.NewLogger(t)),
		self:     self,
		ledger:   ledger.NewMemory(),
		circuits: store,
		queue:    queue.NewMemory(),
		runs:     runs.New(t.TempDir(), proofsys.NewDigest(), proofsys.Slicer{}, runs.WithRand(rand.New(rand.NewSource(1)))),
	}
	n.addMember(shared.Member{
		WorkerInfo: shared.WorkerInfo{UID: 0, Identity: self.Identity()},
		Stake:      5000,
		Permit:     true,
	})
	return n
}

func (n *network) addMember(m shared.Member) {
	n.members = append(n.members, m)
	n.ledger.SetMembers(n.members...)
}

// addWorker starts a worker serving the network's circuits and registers it.
func (n *network) addWorker(t *testing.T) shared.WorkerInfo {
	t.Helper()
	worker := newSigner(t)
	cache := ledger.NewCache(n.ledger)
	server := miner.NewServer(
		worker.Identity(),
		admission.New(n.ctx, cache, admission.DefaultConfig()),
		n.circuits,
		proofsys.NewDigest(),
		n.ledger,
	)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	info := shared.WorkerInfo{
		UID:      uint16(len(n.members)),
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Identity: worker.Identity(),
	}
	n.addMember(shared.Member{WorkerInfo: info, Stake: 10})
	_, err := cache.Refresh(n.ctx)
	require.NoError(t, err)
	return info
}

// addEmptyProofWorker registers a worker that answers every request without a proof.
func (n *network) addEmptyProofWorker(t *testing.T) shared.WorkerInfo {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"proof":""}`))
	}))
	t.Cleanup(srv.Close)
	info := shared.WorkerInfo{
		UID:      uint16(len(n.members)),
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Identity: newSigner(t).Identity(),
	}
	n.addMember(shared.Member{WorkerInfo: info})
	return info
}

// addUnreachableWorker registers a worker at an address nothing listens on.
func (n *network) addUnreachableWorker(t *testing.T) shared.WorkerInfo {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	info := shared.WorkerInfo{UID: uint16(len(n.members)), Address: addr, Identity: newSigner(t).Identity()}
	n.addMember(shared.Member{WorkerInfo: info})
	return info
}

func (n *network) validator(t *testing.T, cfg validator.Config, opts ...func(*validator.Config)) *validator.Validator {
	t.Helper()
	for _, opt := range opts {
		opt(&cfg)
	}
	guard, err := hashguard.New(hashguard.DefaultConfig())
	require.NoError(t, err)
	d := dispatcher.New(n.self, dispatcher.WithConfig(dispatcher.Config{DefaultTimeout: 5 * time.Second, Scheme: "http"}))
	v, err := validator.New(
		n.self.Identity(),
		ledger.NewCache(n.ledger),
		n.queue,
		n.circuits,
		d,
		proofsys.NewDigest(),
		n.runs,
		guard,
		validator.WithConfig(cfg),
		validator.WithRand(rand.New(rand.NewSource(7))),
	)
	require.NoError(t, err)
	return v
}

func testConfig() validator.Config {
	cfg := validator.DefaultConfig()
	cfg.APIListen = ""
	return cfg
}

func TestCycleVerifiesBenchmarks(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model", BenchmarkWeight: 1})
	n.addWorker(t)
	n.addWorker(t)
	v := n.validator(t, testConfig())

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Workers)
	require.Equal(t, 2, summary.Requests)
	require.Equal(t, 2, summary.Passed)
	require.NoError(t, summary.Errors.ErrorOrNil())
}

func TestCycleRespectsBatchSize(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model"})
	for i := 0; i < 3; i++ {
		n.addWorker(t)
	}
	v := n.validator(t, testConfig(), func(c *validator.Config) { c.BatchSize = 2 })

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Workers)
	require.Equal(t, 2, summary.Passed)
}

func TestCycleWithoutWorkers(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model"})
	v := n.validator(t, testConfig())

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Requests)
}

func TestCycleReportsRealWorldJob(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model"})
	worker := n.addWorker(t)
	store, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	v := withArchive(t, n, store)

	hash, err := v.Board().Submit(n.ctx, "model", json.RawMessage(`{"input_data":[[0.5,1.5]]}`))
	require.NoError(t, err)
	status, ok := v.Board().Status(hash)
	require.True(t, ok)
	require.Equal(t, validator.StatusPending, status.Status)

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Passed)

	status, ok = v.Board().Status(hash)
	require.True(t, ok)
	require.Equal(t, validator.StatusDone, status.Status)
	require.True(t, status.Result.Success)
	require.Equal(t, worker.Identity, status.Result.Worker)

	record, err := store.Get(hash)
	require.NoError(t, err)
	require.Equal(t, worker.Identity, record.Worker)
	count, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func withArchive(t *testing.T, n *network, store *archive.Archive) *validator.Validator {
	t.Helper()
	guard, err := hashguard.New(hashguard.DefaultConfig())
	require.NoError(t, err)
	v, err := validator.New(
		n.self.Identity(),
		ledger.NewCache(n.ledger),
		n.queue,
		n.circuits,
		dispatcher.New(n.self),
		proofsys.NewDigest(),
		n.runs,
		guard,
		validator.WithConfig(testConfig()),
		validator.WithArchive(store),
	)
	require.NoError(t, err)
	return v
}

func TestCycleReportsDuplicateJob(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model"})
	n.addWorker(t)
	v := n.validator(t, testConfig())
	inputs := json.RawMessage(`{"input_data":[[1]]}`)

	hash, err := v.Board().Submit(n.ctx, "model", inputs)
	require.NoError(t, err)
	_, err = v.Cycle(n.ctx)
	require.NoError(t, err)

	_, err = v.Board().Submit(n.ctx, "model", json.RawMessage(`{ "input_data": [[1]] }`))
	require.NoError(t, err)
	_, err = v.Cycle(n.ctx)
	require.NoError(t, err)

	status, ok := v.Board().Status(hash)
	require.True(t, ok)
	require.False(t, status.Result.Success)
	require.Equal(t, "Hash already exists", status.Result.Error)
}

func TestCycleCompletesSlicedRun(t *testing.T) {
	t.Parallel()
	n := newNetwork(t,
		&shared.Circuit{ID: "model"},
		&shared.Circuit{ID: "sliced", Kind: shared.KindSliced, Slices: 2},
	)
	n.addWorker(t)
	n.addWorker(t)
	v := n.validator(t, testConfig())

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Requests)
	require.Equal(t, 2, summary.Passed)
	require.Zero(t, n.runs.Len())
	require.Len(t, summary.Runs, 1)
	for _, root := range summary.Runs {
		require.Len(t, root, 32)
	}
}

func TestCycleRequeuesUnreachableSlice(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "sliced", Kind: shared.KindSliced, Slices: 1})
	n.addUnreachableWorker(t)
	v := n.validator(t, testConfig(), func(c *validator.Config) { c.MaxSliceAttempts = 2 })

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Unset)
	require.Equal(t, 1, summary.Requeued)
	require.Equal(t, 1, n.runs.Len())

	job, err := n.queue.Pop(n.ctx)
	require.NoError(t, err)
	require.True(t, job.Retry)
	require.Equal(t, 1, job.Attempts)
	runID := job.Slice.RunID
	require.NoError(t, n.queue.Push(n.ctx, job))

	summary, err = v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Requeued)
	state, err := n.runs.State(runID)
	require.NoError(t, err)
	require.Equal(t, runs.Failed, state)
	length, err := n.queue.Len(n.ctx)
	require.NoError(t, err)
	require.Zero(t, length)
}

func TestCapacitySync(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model", ComputeUnits: 3}, &shared.Circuit{ID: "other", ComputeUnits: 1})
	up := n.addWorker(t)
	down := n.addUnreachableWorker(t)
	v := n.validator(t, testConfig())

	require.NoError(t, v.SyncCapacities(n.ctx))
	caps, ok := v.Capacities().Capacities(up.Identity)
	require.True(t, ok)
	require.Equal(t, map[string]int{"model": 3, "other": 1}, caps)
	_, ok = v.Capacities().Capacities(down.Identity)
	require.False(t, ok)
}

func TestRunServesJobsUntilCanceled(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "model"})
	n.addWorker(t)
	v := n.validator(t, testConfig(), func(c *validator.Config) {
		c.APIListen = "127.0.0.1:0"
		c.CycleInterval = 50 * time.Millisecond
	})
	require.NotNil(t, v.APIAddr())

	hash, err := v.Board().Submit(n.ctx, "model", json.RawMessage(`{"input_data":[[3]]}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(n.ctx)
	defer cancel()
	var eg errgroup.Group
	eg.Go(func() error {
		return v.Run(ctx)
	})

	require.Eventually(t, func() bool {
		status, ok := v.Board().Status(hash)
		return ok && status.Status == validator.StatusDone
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, eg.Wait())
}

func TestCycleRetriesSliceWithoutProof(t *testing.T) {
	t.Parallel()
	n := newNetwork(t, &shared.Circuit{ID: "sliced", Kind: shared.KindSliced, Slices: 1})
	n.addEmptyProofWorker(t)
	v := n.validator(t, testConfig(), func(c *validator.Config) { c.MaxSliceAttempts = 2 })

	summary, err := v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Requeued)

	job, err := n.queue.Pop(n.ctx)
	require.NoError(t, err)
	require.True(t, job.Retry)
	runID := job.Slice.RunID
	state, err := n.runs.State(runID)
	require.NoError(t, err)
	require.Equal(t, runs.Created, state, "an empty proof does not touch the run")
	require.NoError(t, n.queue.Push(n.ctx, job))

	summary, err = v.Cycle(n.ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Requeued)
	state, err = n.runs.State(runID)
	require.NoError(t, err)
	require.Equal(t, runs.Failed, state)
}
