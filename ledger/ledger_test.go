package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/ledger"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
	"github.com/proofmesh/proofmesh/types/mocks"
)

func member(identity string, stake float64) shared.Member {
	return shared.Member{WorkerInfo: shared.WorkerInfo{Identity: identity, Address: identity + ":80"}, Stake: stake}
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory(ledger.WithBlock(10), ledger.WithMembers(member("a", 1), member("b", 2)))

	block, err := l.CurrentBlock(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 10, block)
	require.EqualValues(t, 15, l.Advance(5))

	h1, err := l.BlockHash(ctx, 3)
	require.NoError(t, err)
	h2, err := l.BlockHash(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	_, err = l.BlockHash(ctx, 16)
	require.Error(t, err)

	l.SetBlockHash(3, []byte("fixed"))
	h3, err := l.BlockHash(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("fixed"), h3)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 15, snap.Block)
	m, ok := snap.Lookup("b")
	require.True(t, ok)
	require.EqualValues(t, 2, m.Stake)
}

func TestCommitments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()

	_, err := l.ReadCommitment(ctx, "a", "key")
	require.ErrorIs(t, err, types.ErrCommitmentAbsent)

	value := []byte{1, 2, 3}
	require.NoError(t, l.WriteCommitment(ctx, "a", "key", value))
	value[0] = 9
	got, err := l.ReadCommitment(ctx, "a", "key")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)

	_, err = l.ReadCommitment(ctx, "b", "key")
	require.True(t, errors.Is(err, types.ErrCommitmentAbsent))
}

func TestRunProducesBlocks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))
	defer cancel()
	l := ledger.NewMemory()

	var eg errgroup.Group
	eg.Go(func() error { return l.Run(ctx, time.Millisecond) })
	require.Eventually(t, func() bool {
		block, _ := l.CurrentBlock(ctx)
		return block >= 3
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, eg.Wait())
}

func TestLoadMembers(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "members.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[member]]
uid = 0
identity = "validator"
stake = 2048.0
permit = true

[[member]]
uid = 1
address = "127.0.0.1:8091"
identity = "worker"
stake = 10.0
`), 0o600))

	members, err := ledger.LoadMembers(path)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.True(t, members[0].Permit)
	require.Equal(t, "127.0.0.1:8091", members[1].Address)
	require.EqualValues(t, 1, members[1].UID)

	_, err = ledger.ParseMembers([]byte("[[member]]\nuid = 1\n"))
	require.Error(t, err)
	_, err = ledger.ParseMembers([]byte("[[member]]\nidentity = \"a\"\n[[member]]\nidentity = \"a\"\n"))
	require.Error(t, err)
	_, err = ledger.ParseMembers([]byte("[[member]]\nidentity = \"a\"\nbogus = 1\n"))
	require.Error(t, err)
}

func TestCache(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	l := ledger.NewMemory(ledger.WithMembers(member("a", 1)))
	cache := ledger.NewCache(l)
	require.Nil(t, cache.Snapshot())

	_, err := cache.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Snapshot().Len())

	l.SetMembers(member("a", 1), member("b", 1))
	_, err = cache.Refresh(ctx)
	require.NoError(t, err)
	_, ok := cache.Snapshot().Lookup("b")
	require.True(t, ok)
}

func TestCacheKeepsSnapshotWhenLedgerFails(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	l := mocks.NewMockLedger(gomock.NewController(t))
	snap := &shared.Snapshot{Block: 3, Members: []shared.Member{member("a", 1)}}
	unavailable := errors.New("ledger unavailable")
	gomock.InOrder(
		l.EXPECT().Snapshot(gomock.Any()).Return(snap, nil),
		l.EXPECT().Snapshot(gomock.Any()).Return(nil, unavailable),
	)

	cache := ledger.NewCache(l)
	got, err := cache.Refresh(ctx)
	require.NoError(t, err)
	require.Same(t, snap, got)

	_, err = cache.Refresh(ctx)
	require.ErrorIs(t, err, unavailable)
	require.Same(t, snap, cache.Snapshot())
}
