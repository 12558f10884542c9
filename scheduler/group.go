// Package scheduler rotates fleet maintenance across worker groups
// and runs periodic tasks on independent cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/types"
	"github.com/proofmesh/proofmesh/util"
)

var maintenanceMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proofmesh",
	Subsystem: "scheduler",
	Name:      "maintenance_total",
	Help:      "Number of maintenance attempts by result",
}, []string{"result"})

// State caches the shuffle of one epoch. The ledger stays authoritative.
type State struct {
	Computed bool
	Epoch    uint64
	Block    uint64
	Seed     []byte
	Order    []string
}

// Action is run when the worker's group is due, before the maintenance is committed.
type Action func(ctx context.Context, epoch Epoch) error

// Decision is the outcome of one tick.
type Decision struct {
	Epoch      Epoch
	Index      int
	Group      uint64
	Maintained bool
}

// GroupScheduler decides when this worker takes its turn in the maintenance rotation.
type GroupScheduler struct {
	cfg       Config
	ledger    types.Ledger
	identity  string
	statePath string
	actions   []Action

	mu    sync.Mutex
	state State
}

type newGroupSchedulerOptionFunc func(*GroupScheduler)

func WithConfig(cfg Config) newGroupSchedulerOptionFunc {
	return func(s *GroupScheduler) {
		s.cfg = cfg
	}
}

// WithStateFile persists the shuffle cache so a restart within an epoch does not recompute it.
func WithStateFile(path string) newGroupSchedulerOptionFunc {
	return func(s *GroupScheduler) {
		s.statePath = path
	}
}

func WithAction(action Action) newGroupSchedulerOptionFunc {
	return func(s *GroupScheduler) {
		s.actions = append(s.actions, action)
	}
}

func New(ledger types.Ledger, identity string, opts ...newGroupSchedulerOptionFunc) (*GroupScheduler, error) {
	s := &GroupScheduler{
		cfg:      DefaultConfig(),
		ledger:   ledger,
		identity: identity,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Groups == 0 {
		return nil, errors.New("number of groups must be positive")
	}
	if s.statePath != "" {
		err := util.Load(s.statePath, &s.state)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("loading schedule state: %w", err)
		}
	}
	return s, nil
}

func (s *GroupScheduler) Config() Config {
	return s.cfg
}

// Tick reads the chain head, refreshes the shuffle on epoch change
// and performs maintenance if this worker's group is due and has not acted in this epoch yet.
func (s *GroupScheduler) Tick(ctx context.Context) (*Decision, error) {
	logger := logging.FromContext(ctx)
	block, err := s.ledger.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current block: %w", err)
	}
	epoch := s.cfg.EpochAt(block)

	order, err := s.order(ctx, epoch)
	if err != nil {
		return nil, err
	}
	index := slices.Index(order, s.identity)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrNotMember, s.identity)
	}
	d := &Decision{Epoch: epoch, Index: index, Group: uint64(index) % s.cfg.Groups}
	if !s.cfg.Due(epoch, d.Group) {
		return d, nil
	}

	last, err := s.lastMaintenance(ctx)
	if err != nil {
		logger.Warn("reading last maintenance", zap.Error(err))
	}
	if last != nil && last.Block >= epoch.Start {
		return d, nil
	}

	logger.Info("maintenance triggered",
		zap.Uint64("block", block),
		zap.Uint64("epoch", epoch.Number),
		zap.Uint64("group", d.Group),
		zap.Uint64("remaining", epoch.Remaining),
	)
	if err := s.maintain(ctx, epoch, block); err != nil {
		maintenanceMetric.WithLabelValues("failure").Inc()
		return d, fmt.Errorf("%w: %w", types.ErrMaintenance, err)
	}
	maintenanceMetric.WithLabelValues("success").Inc()
	d.Maintained = true
	return d, nil
}

// Task runs Tick every PollInterval. Errors are reported to the runner and retried on the next tick.
func (s *GroupScheduler) Task() Task {
	return Task{
		Name:     "maintenance",
		Interval: s.cfg.PollInterval,
		Run: func(ctx context.Context) error {
			_, err := s.Tick(ctx)
			return err
		},
	}
}

// State returns a copy of the cached shuffle.
func (s *GroupScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Order = slices.Clone(s.state.Order)
	return st
}

func (s *GroupScheduler) order(ctx context.Context, epoch Epoch) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Computed && s.state.Epoch == epoch.Number {
		return s.state.Order, nil
	}

	seed, err := s.ledger.BlockHash(ctx, epoch.Start)
	if err != nil {
		return nil, fmt.Errorf("reading randomness of block %d: %w", epoch.Start, err)
	}
	snapshot, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading membership: %w", err)
	}
	s.state = State{
		Computed: true,
		Epoch:    epoch.Number,
		Block:    epoch.Start,
		Seed:     seed,
		Order:    Shuffle(epoch.Number, snapshot.Identities(), seed),
	}
	logging.FromContext(ctx).Info("computed maintenance shuffle",
		zap.Uint64("epoch", epoch.Number),
		zap.Uint64("seed_block", epoch.Start),
		zap.Binary("seed", seed),
		zap.Int("members", len(s.state.Order)),
	)
	if s.statePath != "" {
		if err := util.Persist(s.statePath, &s.state); err != nil {
			logging.FromContext(ctx).Warn("persisting schedule state", zap.Error(err))
		}
	}
	return s.state.Order, nil
}

func (s *GroupScheduler) lastMaintenance(ctx context.Context) (*MaintenanceRecord, error) {
	data, err := s.ledger.ReadCommitment(ctx, s.identity, MaintenanceKey)
	switch {
	case errors.Is(err, types.ErrCommitmentAbsent):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return DecodeMaintenanceRecord(data)
}

func (s *GroupScheduler) maintain(ctx context.Context, epoch Epoch, block uint64) error {
	for _, action := range s.actions {
		if err := action(ctx, epoch); err != nil {
			return err
		}
	}
	record := MaintenanceRecord{Epoch: epoch.Number, Block: block}
	data, err := record.Bytes()
	if err != nil {
		return fmt.Errorf("encoding maintenance record: %w", err)
	}
	if err := s.ledger.WriteCommitment(ctx, s.identity, MaintenanceKey, data); err != nil {
		return fmt.Errorf("committing maintenance: %w", err)
	}
	return nil
}
