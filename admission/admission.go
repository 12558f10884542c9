package admission

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

const defaultMinStake = 1024

var decisionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proofmesh",
	Subsystem: "admission",
	Name:      "decisions_total",
	Help:      "Number of admission decisions by reason",
}, []string{"reason"})

// Rejection reasons.
const (
	ReasonAccepted      = "accepted"
	ReasonOpenMode      = "open_mode"
	ReasonNotRegistered = "not_registered"
	ReasonLowStake      = "insufficient_stake"
	ReasonNoPermit      = "no_permit"
)

type Config struct {
	OpenMode bool    `long:"open-mode" description:"Accept requests from any sender (testing only)"`
	MinStake float64 `long:"min-stake" description:"Minimum stake a sender must hold to issue jobs"`
}

func DefaultConfig() Config {
	return Config{MinStake: defaultMinStake}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("open-mode", c.OpenMode)
	enc.AddFloat64("min-stake", c.MinStake)
	return nil
}

// SnapshotSource provides the latest known membership.
type SnapshotSource interface {
	Snapshot() *shared.Snapshot
}

// Control decides whether a sender may have a job executed.
// It only reads membership facts.
type Control struct {
	cfg    Config
	source SnapshotSource
}

func New(ctx context.Context, source SnapshotSource, cfg Config) *Control {
	if cfg.OpenMode {
		logging.FromContext(ctx).Warn("admission control is in open mode, every sender is accepted")
	}
	return &Control{cfg: cfg, source: source}
}

// Check returns nil if identity is admitted, or an error wrapping types.ErrAdmissionRejected.
func (c *Control) Check(ctx context.Context, identity string) error {
	member, reason := c.decide(identity)
	decisionsMetric.WithLabelValues(reason).Inc()
	logging.FromContext(ctx).Info("admission",
		zap.String("sender", identity),
		zap.Float64("stake", member.Stake),
		zap.String("decision", reason),
	)
	switch reason {
	case ReasonAccepted, ReasonOpenMode:
		return nil
	default:
		return fmt.Errorf("%w: %s", types.ErrAdmissionRejected, reason)
	}
}

func (c *Control) decide(identity string) (shared.Member, string) {
	if c.cfg.OpenMode {
		member, _ := c.source.Snapshot().Lookup(identity)
		return member, ReasonOpenMode
	}
	member, ok := c.source.Snapshot().Lookup(identity)
	switch {
	case !ok:
		return member, ReasonNotRegistered
	case member.Stake < c.cfg.MinStake:
		return member, ReasonLowStake
	case !member.Permit:
		return member, ReasonNoPermit
	}
	return member, ReasonAccepted
}
