package miner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/proofmesh/proofmesh/admission"
	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/ledger"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/miner"
	"github.com/proofmesh/proofmesh/proofsys"
	"github.com/proofmesh/proofmesh/scheduler"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

func newSession(t *testing.T, l *ledger.Memory, identity string) *miner.Session {
	t.Helper()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	cfg := miner.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.HealthListen = "127.0.0.1:0"

	cache := ledger.NewCache(l)
	circuits, err := circuit.NewStore(&shared.Circuit{ID: "model"})
	require.NoError(t, err)
	server := miner.NewServer(identity, admission.New(ctx, cache, admission.DefaultConfig()), circuits, proofsys.NewDigest(), l)
	rotation, err := scheduler.New(l, identity, scheduler.WithStateFile(t.TempDir()+"/rotation.bin"))
	require.NoError(t, err)

	session, err := miner.NewSession(cfg, identity, server, cache, rotation)
	require.NoError(t, err)
	return session
}

func TestSessionServesHealth(t *testing.T) {
	t.Parallel()
	worker := newSigner(t)
	l := ledger.NewMemory(ledger.WithBlock(100), ledger.WithMembers(
		shared.Member{WorkerInfo: shared.WorkerInfo{Identity: worker.Identity(), Address: "127.0.0.1:1"}},
	))
	session := newSession(t, l, worker.Identity())

	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))
	defer cancel()
	var eg errgroup.Group
	eg.Go(func() error {
		return session.Run(ctx)
	})

	conn, err := grpc.DialContext(ctx, session.HealthAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, conn.Close()) })
	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: miner.ServiceName})
		return err == nil && res.Status == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)
	require.True(t, session.Registered())

	cancel()
	require.NoError(t, eg.Wait())
}

func TestSessionRefusesUnregisteredWorker(t *testing.T) {
	t.Parallel()
	worker := newSigner(t)
	l := ledger.NewMemory()
	session := newSession(t, l, worker.Identity())

	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	err := session.Run(ctx)
	require.ErrorIs(t, err, types.ErrNotMember)
	require.False(t, session.Registered())
}
