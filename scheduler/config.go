package scheduler

import (
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	defaultTempo        = 360
	defaultGroups       = 8
	defaultWindow       = 20
	defaultPollInterval = 12 * time.Second
)

// Config of the maintenance rotation. An epoch spans Tempo+1 blocks, shifted by Offset.
type Config struct {
	Tempo        uint64        `long:"tempo"         description:"Number of blocks per epoch, excluding the boundary block"`
	Offset       uint64        `long:"offset"        description:"Block offset of epoch boundaries"`
	Groups       uint64        `long:"groups"        description:"Number of maintenance rotation groups"`
	Window       uint64        `long:"window"        description:"Blocks before the epoch end in which maintenance may run"`
	PollInterval time.Duration `long:"poll-interval" description:"Interval between maintenance checks"`
}

func DefaultConfig() Config {
	return Config{
		Tempo:        defaultTempo,
		Groups:       defaultGroups,
		Window:       defaultWindow,
		PollInterval: defaultPollInterval,
	}
}

// Epoch locates a block height within the epoch schedule.
type Epoch struct {
	Number uint64
	// Remaining is the number of blocks until the next epoch starts.
	Remaining uint64
	Start     uint64
}

func (c Config) interval() uint64 {
	return c.Tempo + 1
}

// EpochAt returns the epoch containing the given block.
func (c Config) EpochAt(block uint64) Epoch {
	shifted := block + c.Offset + 1
	number := shifted / c.interval()
	return Epoch{
		Number:    number,
		Remaining: c.interval() - shifted%c.interval(),
		Start:     c.StartBlock(number),
	}
}

// StartBlock returns the first block of an epoch. Epoch 0 starts at block 0.
func (c Config) StartBlock(epoch uint64) uint64 {
	start := epoch * c.interval()
	if start < c.Offset+1 {
		return 0
	}
	return start - c.Offset - 1
}

// NextMaintenance returns the next epoch after the current one in which the group is due.
func (c Config) NextMaintenance(epoch, group uint64) uint64 {
	turn := (group + c.Groups - epoch%c.Groups) % c.Groups
	if turn == 0 {
		return epoch + c.Groups
	}
	return epoch + turn
}

// Due reports whether a group should run maintenance at the given point of an epoch.
func (c Config) Due(e Epoch, group uint64) bool {
	return e.Number%c.Groups == group && e.Remaining <= c.Window
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("tempo", c.Tempo)
	enc.AddUint64("offset", c.Offset)
	enc.AddUint64("groups", c.Groups)
	enc.AddUint64("window", c.Window)
	enc.AddDuration("poll-interval", c.PollInterval)
	return nil
}
