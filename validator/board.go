package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/queue"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

const maxSubmissionSize = 8 << 20

var ErrInvalidInputs = errors.New("inputs are not valid JSON")

// Job states reported to originators.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// JobStatus is what an originator sees of a submitted job.
type JobStatus struct {
	Hash   string            `json:"hash"`
	Status string            `json:"status"`
	Result *shared.JobResult `json:"result,omitempty"`
}

// Submission is the body of a job intake request.
type Submission struct {
	Circuit string          `json:"circuit"`
	Inputs  json.RawMessage `json:"inputs"`
}

// CircuitLookup resolves circuit ids.
type CircuitLookup interface {
	Get(id string) (*shared.Circuit, error)
}

// JobBoard takes real-world jobs from external originators and keeps their results.
type JobBoard struct {
	queue    queue.Queue
	circuits CircuitLookup
	jobs     *lru.Cache
}

func NewJobBoard(q queue.Queue, circuits CircuitLookup, size int) (*JobBoard, error) {
	jobs, err := lru.New(max(size, 1))
	if err != nil {
		return nil, fmt.Errorf("creating results cache: %w", err)
	}
	return &JobBoard{queue: q, circuits: circuits, jobs: jobs}, nil
}

// Submit queues a real-world job and returns its hash.
// A job whose inputs are pending already is rejected with types.ErrDuplicateJob.
func (b *JobBoard) Submit(ctx context.Context, circuitID string, inputs json.RawMessage) (string, error) {
	c, err := b.circuits.Get(circuitID)
	if err != nil {
		return "", err
	}
	job := &shared.QueuedJob{Circuit: c, Inputs: inputs, Type: shared.JobRealWorld}
	hash, err := job.Hash()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInputs, err)
	}
	if status, ok := b.Status(hash); ok && status.Status == StatusPending {
		return "", fmt.Errorf("%w: %s", types.ErrDuplicateJob, hash)
	}
	if err := b.queue.Push(ctx, job); err != nil {
		return "", fmt.Errorf("queueing job: %w", err)
	}
	b.jobs.Add(hash, JobStatus{Hash: hash, Status: StatusPending})
	logging.FromContext(ctx).Info("job submitted", zap.String("hash", hash), zap.String("circuit", c.ID))
	return hash, nil
}

// Report records the result of a real-world job.
func (b *JobBoard) Report(ctx context.Context, hash string, result shared.JobResult) {
	b.jobs.Add(hash, JobStatus{Hash: hash, Status: StatusDone, Result: &result})
	logging.FromContext(ctx).Info("job result",
		zap.String("hash", hash),
		zap.Bool("success", result.Success),
		zap.String("worker", result.Worker),
		zap.String("error", result.Error),
	)
}

func (b *JobBoard) Status(hash string) (JobStatus, bool) {
	v, ok := b.jobs.Get(hash)
	if !ok {
		return JobStatus{}, false
	}
	return v.(JobStatus), true
}

// Handler serves the intake API: POST /jobs and GET /jobs/{hash}.
func (b *JobBoard) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/jobs", b.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{hash}", b.handleStatus).Methods(http.MethodGet)
	return r
}

func (b *JobBoard) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionSize))
	if err != nil {
		writeJSON(ctx, w, http.StatusRequestEntityTooLarge, apiError("request body too large"))
		return
	}
	var sub Submission
	if err := json.Unmarshal(body, &sub); err != nil || len(sub.Inputs) == 0 {
		writeJSON(ctx, w, http.StatusBadRequest, apiError("malformed submission"))
		return
	}
	hash, err := b.Submit(ctx, sub.Circuit, sub.Inputs)
	switch {
	case err == nil:
		writeJSON(ctx, w, http.StatusAccepted, JobStatus{Hash: hash, Status: StatusPending})
	case errors.Is(err, types.ErrCircuitNotFound):
		writeJSON(ctx, w, http.StatusNotFound, apiError(err.Error()))
	case errors.Is(err, types.ErrDuplicateJob):
		writeJSON(ctx, w, http.StatusConflict, apiError(err.Error()))
	case errors.Is(err, ErrInvalidInputs):
		writeJSON(ctx, w, http.StatusBadRequest, apiError(ErrInvalidInputs.Error()))
	default:
		logging.FromContext(ctx).Error("submitting job", zap.Error(err))
		writeJSON(ctx, w, http.StatusInternalServerError, apiError("an error occurred"))
	}
}

func (b *JobBoard) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := b.Status(mux.Vars(r)["hash"])
	if !ok {
		writeJSON(r.Context(), w, http.StatusNotFound, apiError("unknown job"))
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, status)
}

func apiError(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Debug("writing response", zap.Error(err))
	}
}
