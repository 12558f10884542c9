package validator

import (
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	BatchSize        int           `long:"batch-size"         description:"Maximum number of workers queried per cycle"`
	CycleInterval    time.Duration `long:"cycle-interval"     description:"Time between two dispatch cycles"`
	CapacityInterval time.Duration `long:"capacity-interval"  description:"Time between two capacity syncs"`
	MaxSliceAttempts int           `long:"max-slice-attempts" description:"Dispatch attempts of a slice job before its run is failed"`
	RunDir           string        `long:"run-dir"            description:"Directory holding the working files of sliced runs"`
	ArchiveDir       string        `long:"archive-dir"        description:"Directory of the response archive (empty disables archiving)"`
	RedisAddr        string        `long:"redis-addr"         description:"Address of the redis job queue (empty for an in-memory queue)"`
	RedisKey         string        `long:"redis-key"          description:"Redis list holding queued jobs"`
	APIListen        string        `long:"api-listen"         description:"Address of the job intake API (empty disables it)"`
	ResultsSize      int           `long:"results-size"       description:"Number of job results kept for originators"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        16,
		CycleInterval:    12 * time.Second,
		CapacityInterval: 10 * time.Minute,
		MaxSliceAttempts: 3,
		RedisKey:         "proofmesh:jobs",
		APIListen:        "localhost:8092",
		ResultsSize:      4096,
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("batch-size", c.BatchSize)
	enc.AddDuration("cycle-interval", c.CycleInterval)
	enc.AddDuration("capacity-interval", c.CapacityInterval)
	enc.AddInt("max-slice-attempts", c.MaxSliceAttempts)
	enc.AddString("run-dir", c.RunDir)
	enc.AddString("archive-dir", c.ArchiveDir)
	enc.AddString("redis-addr", c.RedisAddr)
	enc.AddString("api-listen", c.APIListen)
	return nil
}
