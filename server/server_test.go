package server

// End to end test running a worker node and a validator node against each other.

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/signing"
	"github.com/proofmesh/proofmesh/types"
	"github.com/proofmesh/proofmesh/validator"
)

const circuitsTOML = `
[[circuit]]
id = "model"
benchmark_weight = 1.0
compute_units = 2

[[circuit]]
id = "sliced"
kind = "sliced"
slices = 2
`

// nodeDir prepares a base directory holding a known identity key.
func nodeDir(t *testing.T) (string, *signing.Signer) {
	t.Helper()
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := t.TempDir()
	dataDir := filepath.Join(dir, defaultDataDirname)
	require.NoError(t, os.MkdirAll(dataDir, 0o700))
	require.NoError(t, saveState(dataDir, &state{PrivKey: key}))
	signer, err := signing.NewSigner(key)
	require.NoError(t, err)
	return dir, signer
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func membersTOML(validatorID, workerID, workerAddr string) string {
	return fmt.Sprintf(`
[[member]]
uid = 0
identity = %q
stake = 5000.0
permit = true

[[member]]
uid = 1
identity = %q
address = %q
stake = 10.0
`, validatorID, workerID, workerAddr)
}

func nodeConfig(t *testing.T, dir, role string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.BaseDir = dir
	cfg.DataDir = filepath.Join(dir, defaultDataDirname)
	cfg.LogDir = filepath.Join(dir, defaultLogDirname)
	cfg.Validator.RunDir = ""
	cfg, err := SetupConfig(cfg)
	require.NoError(t, err)
	return cfg
}

func TestWorkerServesValidator(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))
	defer cancel()
	shared := t.TempDir()
	circuits := writeFile(t, shared, "circuits.toml", circuitsTOML)

	workerDir, workerKey := nodeDir(t)
	validatorDir, validatorKey := nodeDir(t)

	workerCfg := nodeConfig(t, workerDir, RoleWorker)
	workerCfg.CircuitsFile = circuits
	workerCfg.MembersFile = writeFile(t, workerDir, "members.toml",
		membersTOML(validatorKey.Identity(), workerKey.Identity(), ""))
	workerCfg.Worker.Listen = "127.0.0.1:0"
	workerCfg.Worker.HealthListen = ""
	worker, err := New(ctx, *workerCfg)
	require.NoError(t, err)
	require.Equal(t, workerKey.Identity(), worker.Identity())

	validatorCfg := nodeConfig(t, validatorDir, RoleValidator)
	validatorCfg.CircuitsFile = circuits
	validatorCfg.MembersFile = writeFile(t, validatorDir, "members.toml",
		membersTOML(validatorKey.Identity(), workerKey.Identity(), worker.Session().Addr().String()))
	validatorCfg.Validator.APIListen = ""
	validatorCfg.Validator.CycleInterval = 50 * time.Millisecond
	validatorCfg.Validator.ArchiveDir = filepath.Join(validatorDir, "archive")
	node, err := New(ctx, *validatorCfg)
	require.NoError(t, err)

	var eg errgroup.Group
	eg.Go(func() error { return worker.Start(ctx) })
	eg.Go(func() error { return node.Start(ctx) })

	board := node.Validator().Board()
	hash, err := board.Submit(ctx, "model", json.RawMessage(`{"input_data":[[1,2,3]]}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		status, ok := board.Status(hash)
		return ok && status.Status == validator.StatusDone && status.Result.Success
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		caps, ok := node.Validator().Capacities().Capacities(workerKey.Identity())
		return ok && caps["model"] == 2
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, eg.Wait())
}

func TestUnregisteredWorkerDoesNotStart(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	dir, _ := nodeDir(t)
	cfg := nodeConfig(t, dir, RoleWorker)
	cfg.CircuitsFile = writeFile(t, dir, "circuits.toml", circuitsTOML)
	cfg.Worker.Listen = "127.0.0.1:0"
	cfg.Worker.HealthListen = ""

	node, err := New(ctx, *cfg)
	require.NoError(t, err)
	require.ErrorIs(t, node.Start(ctx), types.ErrNotMember)
}

func TestNewRequiresCircuits(t *testing.T) {
	t.Parallel()
	dir, _ := nodeDir(t)
	cfg := nodeConfig(t, dir, RoleValidator)
	_, err := New(context.Background(), *cfg)
	require.Error(t, err)
}
