package ledger

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

// Cache holds the latest membership snapshot read from a ledger.
// Readers never block on the ledger; Refresh replaces the snapshot atomically.
type Cache struct {
	ledger  types.Ledger
	current atomic.Pointer[shared.Snapshot]
}

func NewCache(l types.Ledger) *Cache {
	return &Cache{ledger: l}
}

func (c *Cache) Refresh(ctx context.Context) (*shared.Snapshot, error) {
	snap, err := c.ledger.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading membership snapshot: %w", err)
	}
	prev := c.current.Swap(snap)
	if prev == nil || prev.Len() != snap.Len() {
		logging.FromContext(ctx).Info("membership updated", zap.Uint64("block", snap.Block), zap.Int("members", snap.Len()))
	}
	return snap, nil
}

// Snapshot returns the latest snapshot, nil before the first Refresh.
func (c *Cache) Snapshot() *shared.Snapshot {
	return c.current.Load()
}
