package validator

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
)

var capacityQuery = []byte(`{"capacities":null}`)

// Batcher sends a batch of requests and returns one result per request, in order.
type Batcher interface {
	DispatchAll(ctx context.Context, requests []*shared.Request) []dispatcher.Result
}

// CapacityManager tracks the compute units each worker grants to each circuit.
type CapacityManager struct {
	batcher Batcher

	mu         sync.RWMutex
	capacities map[string]map[string]int
}

func NewCapacityManager(batcher Batcher) *CapacityManager {
	return &CapacityManager{
		batcher:    batcher,
		capacities: make(map[string]map[string]int),
	}
}

// Sync queries every worker for its capacities and returns those that answered.
// Workers that fail to answer keep their previously known capacities.
func (m *CapacityManager) Sync(ctx context.Context, workers []shared.WorkerInfo) map[string]map[string]int {
	logger := logging.FromContext(ctx).Named("capacity")
	requests := make([]*shared.Request, 0, len(workers))
	for _, w := range workers {
		requests = append(requests, &shared.Request{
			Worker:  w,
			Type:    shared.JobBenchmark,
			Route:   shared.RouteCapacities,
			Payload: capacityQuery,
		})
	}

	synced := make(map[string]map[string]int, len(workers))
	for _, res := range m.batcher.DispatchAll(ctx, requests) {
		identity := res.Request.Worker.Identity
		if res.Err != nil {
			logger.Debug("capacity query failed", zap.String("worker", identity), zap.Error(res.Err))
			continue
		}
		caps := make(map[string]int)
		gjson.GetBytes(res.Body, "capacities").ForEach(func(key, value gjson.Result) bool {
			caps[key.String()] = int(value.Int())
			return true
		})
		synced[identity] = caps
	}

	m.mu.Lock()
	for identity, caps := range synced {
		m.capacities[identity] = caps
	}
	m.mu.Unlock()
	logger.Info("capacities synced", zap.Int("workers", len(workers)), zap.Int("answered", len(synced)))
	return synced
}

// Capacities returns the last known capacities of a worker.
func (m *CapacityManager) Capacities(identity string) (map[string]int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caps, ok := m.capacities[identity]
	return caps, ok
}
