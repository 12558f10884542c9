package miner

import (
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	defaultListen              = "0.0.0.0:8091"
	defaultHealthListen        = "localhost:50091"
	defaultMaxConcurrentProofs = 4
	defaultMaxBodySize         = 32 << 20
	defaultSyncInterval        = time.Minute
	defaultStatusInterval      = 24 * time.Second
	defaultRegisterInterval    = 10 * time.Minute
)

type Config struct {
	Listen              string        `long:"listen"                description:"The interface/port to serve jobs on"`
	HealthListen        string        `long:"health-listen"         description:"The interface/port of the gRPC health service"`
	MaxConcurrentProofs int64         `long:"max-concurrent-proofs" description:"Number of proofs generated in parallel"`
	MaxBodySize         int64         `long:"max-body-size"         description:"Largest accepted request body in bytes"`
	CompetitionOnly     bool          `long:"competition-only"      description:"Only answer competition requests"`
	CommitmentFile      string        `long:"commitment-file"       description:"File holding the local competition circuit commitment"`
	SyncInterval        time.Duration `long:"sync-interval"         description:"Interval between membership refreshes"`
	StatusInterval      time.Duration `long:"status-interval"       description:"Interval between status log lines"`
	RegisterInterval    time.Duration `long:"register-interval"     description:"Interval between registration checks"`
}

func DefaultConfig() Config {
	return Config{
		Listen:              defaultListen,
		HealthListen:        defaultHealthListen,
		MaxConcurrentProofs: defaultMaxConcurrentProofs,
		MaxBodySize:         defaultMaxBodySize,
		SyncInterval:        defaultSyncInterval,
		StatusInterval:      defaultStatusInterval,
		RegisterInterval:    defaultRegisterInterval,
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("listen", c.Listen)
	enc.AddString("health-listen", c.HealthListen)
	enc.AddInt64("max-concurrent-proofs", c.MaxConcurrentProofs)
	enc.AddBool("competition-only", c.CompetitionOnly)
	enc.AddDuration("sync-interval", c.SyncInterval)
	enc.AddDuration("status-interval", c.StatusInterval)
	enc.AddDuration("register-interval", c.RegisterInterval)
	return nil
}
