package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/util"
)

const (
	stateFilename = "state.bin"
	// KeyEnvVar holds a hex encoded ed25519 seed or private key overriding the generated identity.
	KeyEnvVar = "PROOFMESH_KEY"
)

type state struct {
	PrivKey []byte
}

func saveState(datadir string, s *state) error {
	return util.Persist(filepath.Join(datadir, stateFilename), s)
}

// loadState returns the persisted identity key. A key given in envKey takes precedence
// but must match the persisted one, if any. Without either a fresh key is generated.
func loadState(ctx context.Context, datadir, envKey string) (*state, error) {
	logger := logging.FromContext(ctx)
	var fromEnv ed25519.PrivateKey
	if envKey != "" {
		raw, err := hex.DecodeString(envKey)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", KeyEnvVar, err)
		}
		switch len(raw) {
		case ed25519.SeedSize:
			fromEnv = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			fromEnv = ed25519.PrivateKey(raw)
		default:
			return nil, fmt.Errorf("%s: key must be %d or %d bytes, got %d",
				KeyEnvVar, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
		}
	}

	s := &state{}
	err := util.Load(filepath.Join(datadir, stateFilename), s)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if fromEnv != nil {
			logger.Info("using identity key from environment")
			return &state{PrivKey: fromEnv}, nil
		}
		_, key, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		logger.Info("generated new identity key")
		return &state{PrivKey: key}, nil
	case err != nil:
		return nil, err
	}

	if len(s.PrivKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("persisted key has invalid length %d", len(s.PrivKey))
	}
	if fromEnv != nil && !bytes.Equal(fromEnv, s.PrivKey) {
		return nil, fmt.Errorf("key in %s does not match the key persisted in %s", KeyEnvVar, datadir)
	}
	logger.Debug("loaded identity key", zap.String("datadir", datadir))
	return s, nil
}
