package runs

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/minio/sha256-simd"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/spacemeshos/merkle-tree"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

const inputFilename = "input.json"

// State of a run.
type State uint8

const (
	Created State = iota
	InProgress
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SliceState tracks the working files and verification outcome of one slice.
type SliceState struct {
	InputRef  string
	OutputRef string
	ProofRef  string
	Success   shared.Outcome

	proofDigest []byte
}

// Record is the state of one run.
type Record struct {
	ID        string
	CircuitID string
	Dir       string
	Created   time.Time
	Slices    map[int]*SliceState
	// Digest is the merkle root over the slice proof digests, set once the run is complete.
	Digest []byte
}

// State derives the run state from its slices. A single failed slice fails the run.
func (r *Record) State() State {
	passed := 0
	for _, s := range r.Slices {
		switch s.Success {
		case shared.Failed:
			return Failed
		case shared.Passed:
			passed++
		}
	}
	switch {
	case len(r.Slices) > 0 && passed == len(r.Slices):
		return Complete
	case passed > 0:
		return InProgress
	default:
		return Created
	}
}

func (r *Record) clone() *Record {
	out := *r
	out.Slices = make(map[int]*SliceState, len(r.Slices))
	for i, s := range r.Slices {
		cp := *s
		out.Slices[i] = &cp
	}
	return &out
}

type run struct {
	mu      sync.Mutex
	record  *Record
	circuit *shared.Circuit
	removed bool
}

// Coordinator owns the lifecycle of multi-slice runs.
// Mutations of one run are serialized, distinct runs proceed in parallel.
type Coordinator struct {
	dir    string
	proofs types.ProofSystem
	slicer types.Slicer
	runs   cmap.ConcurrentMap[string, *run]

	rngMu sync.Mutex
	rng   *rand.Rand
}

type newCoordinatorOptionFunc func(*Coordinator)

func WithRand(rng *rand.Rand) newCoordinatorOptionFunc {
	return func(c *Coordinator) {
		c.rng = rng
	}
}

func New(dir string, proofs types.ProofSystem, slicer types.Slicer, opts ...newCoordinatorOptionFunc) *Coordinator {
	c := &Coordinator{
		dir:    dir,
		proofs: proofs,
		slicer: slicer,
		runs:   cmap.New[*run](),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateRun decomposes a fresh benchmark input of the circuit into slices
// and returns the new run with one queued job per slice.
func (c *Coordinator) GenerateRun(ctx context.Context, circ *shared.Circuit) (*Record, []*shared.QueuedJob, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return nil, nil, fmt.Errorf("generating run id: %w", err)
	}
	runDir := filepath.Join(c.dir, id.String())
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating run dir: %w", err)
	}

	c.rngMu.Lock()
	inputs, err := circuit.GenerateInputs(circ, c.rng)
	c.rngMu.Unlock()
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("generating inputs: %w", err), os.RemoveAll(runDir))
	}
	inputPath := filepath.Join(runDir, inputFilename)
	if err := os.WriteFile(inputPath, inputs, 0o600); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("writing run input: %w", err), os.RemoveAll(runDir))
	}

	files, err := c.slicer.Decompose(ctx, circ, inputPath, runDir)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("decomposing %s: %w", circ.ID, err), os.RemoveAll(runDir))
	}
	record, err := c.Track(ctx, circ, id.String(), runDir, files)
	if err != nil {
		return nil, nil, errors.Join(err, os.RemoveAll(runDir))
	}

	jobs := make([]*shared.QueuedJob, 0, len(files))
	for _, f := range files {
		in, err := os.ReadFile(f.InputPath)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("reading slice %d input: %w", f.Index, err), c.Remove(ctx, record.ID))
		}
		out, err := os.ReadFile(f.OutputPath)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("reading slice %d output: %w", f.Index, err), c.Remove(ctx, record.ID))
		}
		jobs = append(jobs, &shared.QueuedJob{
			Circuit: circ,
			Inputs:  in,
			Outputs: out,
			Type:    shared.JobSlice,
			Slice:   &shared.SliceRef{RunID: record.ID, Index: f.Index},
		})
	}
	return record, jobs, nil
}

// Track registers a run over already decomposed slices.
func (c *Coordinator) Track(ctx context.Context, circ *shared.Circuit, id, dir string, files []types.SliceFiles) (*Record, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("run %s: no slices", id)
	}
	record := &Record{
		ID:        id,
		CircuitID: circ.ID,
		Dir:       dir,
		Created:   time.Now(),
		Slices:    make(map[int]*SliceState, len(files)),
	}
	for _, f := range files {
		if _, ok := record.Slices[f.Index]; ok {
			return nil, fmt.Errorf("run %s: slice %d listed twice", id, f.Index)
		}
		record.Slices[f.Index] = &SliceState{InputRef: f.InputPath, OutputRef: f.OutputPath}
	}
	if !c.runs.SetIfAbsent(id, &run{record: record, circuit: circ}) {
		return nil, fmt.Errorf("run %s already exists", id)
	}
	logging.FromContext(ctx).Info("run created",
		zap.String("run", id),
		zap.String("circuit", circ.ID),
		zap.Int("slices", len(files)),
	)
	return record.clone(), nil
}

// VerifySlice verifies the artifact a worker produced for one slice and records the outcome.
// A missing run or slice is reported as types.ErrRunNotFound or types.ErrSliceNotFound.
// Once a slice failed, later results do not change its outcome.
func (c *Coordinator) VerifySlice(ctx context.Context, runID string, index int, artifact json.RawMessage) (bool, error) {
	r, ok := c.runs.Get(runID)
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}

	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	slice, ok := r.record.Slices[index]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: run %s slice %d", types.ErrSliceNotFound, runID, index)
	}
	inputRef, outputRef := slice.InputRef, slice.OutputRef
	proofRef := filepath.Join(r.record.Dir, fmt.Sprintf("proof_%d.json", index))
	circ := r.circuit
	r.mu.Unlock()

	ok, verifyErr := c.verify(ctx, circ, inputRef, outputRef, proofRef, artifact)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return false, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	if slice.Success != shared.Failed {
		slice.Success = shared.OutcomeOf(ok)
		slice.ProofRef = proofRef
		sum := sha256.Sum256(artifact)
		slice.proofDigest = sum[:]
	}
	logging.FromContext(ctx).Debug("slice verified",
		zap.String("run", runID),
		zap.Int("slice", index),
		zap.Bool("valid", ok),
		zap.Stringer("run_state", r.record.State()),
	)
	return ok, verifyErr
}

func (c *Coordinator) verify(
	ctx context.Context,
	circ *shared.Circuit,
	inputRef, outputRef, proofRef string,
	artifact json.RawMessage,
) (bool, error) {
	if len(bytes.TrimSpace(artifact)) == 0 {
		return false, types.ErrEmptyProof
	}
	inputs, err := os.ReadFile(inputRef) //#nosec G304
	if err != nil {
		return false, fmt.Errorf("reading slice input: %w", err)
	}
	outputs, err := os.ReadFile(outputRef) //#nosec G304
	if err != nil {
		return false, fmt.Errorf("reading slice output: %w", err)
	}
	if err := os.WriteFile(proofRef, artifact, 0o600); err != nil {
		return false, fmt.Errorf("writing slice proof: %w", err)
	}
	ok, err := c.proofs.Verify(ctx, types.VerifyJob{
		Circuit:  circ,
		Artifact: artifact,
		Inputs:   inputs,
		Outputs:  outputs,
	})
	if err != nil {
		return false, fmt.Errorf("verifying slice proof: %w", err)
	}
	return ok, nil
}

// CheckCompletion reports whether every slice of the run verified successfully
// and returns the run digest once it has.
// If so and remove is set, the run's working files are deleted and the run is forgotten.
func (c *Coordinator) CheckCompletion(ctx context.Context, runID string, remove bool) ([]byte, bool, error) {
	r, ok := c.runs.Get(runID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return nil, false, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	if r.record.State() != Complete {
		return nil, false, nil
	}

	if r.record.Digest == nil {
		root, err := digest(r.record)
		if err != nil {
			return nil, true, fmt.Errorf("computing digest of run %s: %w", runID, err)
		}
		r.record.Digest = root
		logging.FromContext(ctx).Info("run complete",
			zap.String("run", runID),
			zap.String("circuit", r.record.CircuitID),
			zap.String("digest", hex.EncodeToString(root)),
			zap.Duration("took", time.Since(r.record.Created)),
		)
	}
	root := r.record.Digest
	if remove {
		return root, true, c.cleanup(r)
	}
	return root, true, nil
}

// State returns the current state of a run.
func (c *Coordinator) State(runID string) (State, error) {
	r, ok := c.runs.Get(runID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.State(), nil
}

// Get returns a copy of a run record.
func (c *Coordinator) Get(runID string) (*Record, error) {
	r, ok := c.runs.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.clone(), nil
}

// Remove forcibly deletes a run and its working files.
func (c *Coordinator) Remove(ctx context.Context, runID string) error {
	r, ok := c.runs.Get(runID)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return nil
	}
	logging.FromContext(ctx).Info("removing run", zap.String("run", runID), zap.Stringer("state", r.record.State()))
	return c.cleanup(r)
}

// TotalCleanup removes every resident run.
func (c *Coordinator) TotalCleanup(ctx context.Context) error {
	var result *multierror.Error
	for _, id := range c.runs.Keys() {
		if err := c.Remove(ctx, id); err != nil && !errors.Is(err, types.ErrRunNotFound) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Len is the number of resident runs.
func (c *Coordinator) Len() int {
	return c.runs.Count()
}

// cleanup must be called with r.mu held.
func (c *Coordinator) cleanup(r *run) error {
	r.removed = true
	c.runs.Remove(r.record.ID)
	if r.record.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(r.record.Dir); err != nil {
		return fmt.Errorf("removing run %s files: %w", r.record.ID, err)
	}
	return nil
}

// digest is the merkle root over the proof digests of all slices, in slice order.
func digest(record *Record) ([]byte, error) {
	tree, err := merkle.NewTreeBuilder().WithHashFunc(shared.HashTreeNode).Build()
	if err != nil {
		return nil, fmt.Errorf("initializing merkle tree: %w", err)
	}
	indices := maps.Keys(record.Slices)
	slices.Sort(indices)
	for _, i := range indices {
		if err := tree.AddLeaf(record.Slices[i].proofDigest); err != nil {
			return nil, fmt.Errorf("adding slice %d to merkle tree: %w", i, err)
		}
	}
	return tree.Root(), nil
}
