package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/proofmesh/proofmesh/shared"
)

const defaultRedisKey = "proofmesh:jobs"

// CircuitResolver maps circuit ids back to circuits.
type CircuitResolver interface {
	Get(id string) (*shared.Circuit, error)
}

type record struct {
	CircuitID  string          `json:"circuit"`
	Inputs     json.RawMessage `json:"inputs"`
	Outputs    json.RawMessage `json:"outputs,omitempty"`
	Type       shared.JobType  `json:"type"`
	Sliced     bool            `json:"sliced,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	SliceIndex int             `json:"slice_index,omitempty"`
	Retry      bool            `json:"retry,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
}

// Redis is a Queue shared through a redis list. The tail of the list is the top of the queue.
type Redis struct {
	client   *redis.Client
	key      string
	circuits CircuitResolver
}

type newRedisOptionFunc func(*Redis)

func WithKey(key string) newRedisOptionFunc {
	return func(r *Redis) {
		r.key = key
	}
}

func NewRedis(client *redis.Client, circuits CircuitResolver, opts ...newRedisOptionFunc) *Redis {
	r := &Redis{client: client, key: defaultRedisKey, circuits: circuits}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Push(ctx context.Context, jobs ...*shared.QueuedJob) error {
	values, err := encodeJobs(jobs)
	if err != nil || len(values) == 0 {
		return err
	}
	if err := r.client.RPush(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("pushing jobs: %w", err)
	}
	r.observe(ctx)
	return nil
}

func (r *Redis) Defer(ctx context.Context, jobs ...*shared.QueuedJob) error {
	values, err := encodeJobs(jobs)
	if err != nil || len(values) == 0 {
		return err
	}
	if err := r.client.LPush(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("deferring jobs: %w", err)
	}
	r.observe(ctx)
	return nil
}

func (r *Redis) Pop(ctx context.Context) (*shared.QueuedJob, error) {
	data, err := r.client.RPop(ctx, r.key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("popping job: %w", err)
	}
	r.observe(ctx)

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	c, err := r.circuits.Get(rec.CircuitID)
	if err != nil {
		return nil, fmt.Errorf("resolving circuit of queued job: %w", err)
	}
	job := &shared.QueuedJob{
		Circuit:  c,
		Inputs:   rec.Inputs,
		Outputs:  rec.Outputs,
		Type:     rec.Type,
		Retry:    rec.Retry,
		Attempts: rec.Attempts,
	}
	if rec.Sliced {
		job.Slice = &shared.SliceRef{RunID: rec.RunID, Index: rec.SliceIndex}
	}
	return job, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("querying queue length: %w", err)
	}
	return int(n), nil
}

func (r *Redis) observe(ctx context.Context) {
	if n, err := r.client.LLen(ctx, r.key).Result(); err == nil {
		depthMetric.WithLabelValues("redis").Set(float64(n))
	}
}

func encodeJobs(jobs []*shared.QueuedJob) ([]any, error) {
	values := make([]any, 0, len(jobs))
	for _, job := range jobs {
		if job.Circuit == nil {
			return nil, errors.New("queued job without circuit")
		}
		rec := record{
			CircuitID: job.Circuit.ID,
			Inputs:    job.Inputs,
			Outputs:   job.Outputs,
			Type:      job.Type,
			Retry:     job.Retry,
			Attempts:  job.Attempts,
		}
		if job.Slice != nil {
			rec.Sliced = true
			rec.RunID = job.Slice.RunID
			rec.SliceIndex = job.Slice.Index
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding job: %w", err)
		}
		values = append(values, data)
	}
	return values, nil
}
