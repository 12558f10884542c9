// Package ledger provides an in-memory ledger for devnets and tests
// and a cache of the membership snapshot consumed by the hot path.
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/minio/sha256-simd"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

// Memory is a single-process ledger. Block hashes default to the sha256 of the height.
type Memory struct {
	mu          sync.RWMutex
	block       uint64
	hashes      map[uint64][]byte
	members     []shared.Member
	commitments map[string][]byte
}

type newMemoryOptionFunc func(*Memory)

func WithBlock(height uint64) newMemoryOptionFunc {
	return func(m *Memory) {
		m.block = height
	}
}

func WithMembers(members ...shared.Member) newMemoryOptionFunc {
	return func(m *Memory) {
		m.members = members
	}
}

func NewMemory(opts ...newMemoryOptionFunc) *Memory {
	m := &Memory{
		hashes:      make(map[uint64][]byte),
		commitments: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ types.Ledger = (*Memory)(nil)

func (m *Memory) CurrentBlock(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.block, nil
}

func (m *Memory) BlockHash(_ context.Context, height uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if height > m.block {
		return nil, fmt.Errorf("block %d is ahead of the chain at %d", height, m.block)
	}
	if h, ok := m.hashes[height]; ok {
		return h, nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	sum := sha256.Sum256(buf[:])
	return sum[:], nil
}

func (m *Memory) Snapshot(context.Context) (*shared.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := make([]shared.Member, len(m.members))
	copy(members, m.members)
	return shared.NewSnapshot(m.block, members), nil
}

func (m *Memory) ReadCommitment(_ context.Context, identity, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.commitments[commitmentKey(identity, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", types.ErrCommitmentAbsent, identity, key)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) WriteCommitment(_ context.Context, identity, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitments[commitmentKey(identity, key)] = append([]byte(nil), value...)
	return nil
}

// Advance moves the chain forward by n blocks and returns the new height.
func (m *Memory) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block += n
	return m.block
}

func (m *Memory) SetBlockHash(height uint64, hash []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[height] = hash
}

// SetMembers replaces the membership.
func (m *Memory) SetMembers(members ...shared.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = members
}

// Run produces one block per interval until ctx is canceled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) error {
	logger := logging.FromContext(ctx).Named("ledger")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			height := m.Advance(1)
			logger.Debug("new block", zap.Uint64("height", height))
		}
	}
}

func commitmentKey(identity, key string) string {
	return identity + "/" + key
}
