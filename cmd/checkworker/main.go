// Command checkworker sends a signed capacities query to a worker, the same way a validator does.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
)

type options struct {
	Address  string        `long:"address"  description:"host:port of the worker"        required:"true"`
	Identity string        `long:"identity" description:"Identity of the worker"         required:"true"`
	Key      string        `long:"key"      description:"Hex ed25519 seed of the sender" env:"PROOFMESH_KEY" required:"true"`
	Timeout  time.Duration `long:"timeout"  description:"Request timeout"                default:"10s"`
	Debug    bool          `long:"debug"    description:"Enable debug logs"`
}

func parseKey(s string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("key has invalid length %d", len(raw))
	}
}

func run(ctx context.Context, opts options) error {
	key, err := parseKey(opts.Key)
	if err != nil {
		return err
	}
	signer, err := signing.NewSigner(key)
	if err != nil {
		return err
	}
	cfg := dispatcher.DefaultConfig()
	cfg.DefaultTimeout = opts.Timeout
	d := dispatcher.New(signer, dispatcher.WithConfig(cfg))

	body, err := d.Send(ctx, &shared.Request{
		Worker:  shared.WorkerInfo{Address: opts.Address, Identity: opts.Identity},
		Type:    shared.JobBenchmark,
		Route:   shared.RouteCapacities,
		Payload: []byte(`{"capacities":null}`),
	})
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx)
	gjson.GetBytes(body, "capacities").ForEach(func(circuit, units gjson.Result) bool {
		logger.Info("capacity", zap.String("circuit", circuit.String()), zap.Int64("compute_units", units.Int()))
		return true
	})
	return nil
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}
	logger := logging.New(level, "", false)
	if err := run(logging.NewContext(context.Background(), logger), opts); err != nil {
		logger.Fatal("worker check failed", zap.Error(err))
	}
}
