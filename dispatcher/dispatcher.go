package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
	"github.com/proofmesh/proofmesh/types"
)

const maxResponseSize = 64 << 20

var (
	latencyMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "proofmesh",
		Subsystem: "dispatcher",
		Name:      "request_duration_seconds",
		Help:      "Round-trip time of requests to workers",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"route"})

	failuresMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofmesh",
		Subsystem: "dispatcher",
		Name:      "failures_total",
		Help:      "Number of failed requests to workers by route and reason",
	}, []string{"route", "reason"})
)

type Config struct {
	DefaultTimeout time.Duration `long:"default-timeout" description:"Timeout of requests not bound to a circuit"`
	Scheme         string        `long:"scheme"          description:"URL scheme used to reach workers"`
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 60 * time.Second,
		Scheme:         "http",
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddDuration("default-timeout", c.DefaultTimeout)
	enc.AddString("scheme", c.Scheme)
	return nil
}

// Result is the outcome of one request. Exactly one of Body and Err is set.
type Result struct {
	Request *shared.Request
	Body    []byte
	Err     error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Dispatcher sends signed requests to workers.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	signer *signing.Signer
}

type newDispatcherOptionFunc func(*Dispatcher)

func WithConfig(cfg Config) newDispatcherOptionFunc {
	return func(d *Dispatcher) {
		d.cfg = cfg
	}
}

func WithHTTPClient(client *http.Client) newDispatcherOptionFunc {
	return func(d *Dispatcher) {
		d.client = client
	}
}

func New(signer *signing.Signer, opts ...newDispatcherOptionFunc) *Dispatcher {
	d := &Dispatcher{
		cfg:    DefaultConfig(),
		client: &http.Client{},
		signer: signer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchAll sends every request concurrently and waits for all of them.
// Results are aligned with requests. A failing request never affects the others.
func (d *Dispatcher) DispatchAll(ctx context.Context, requests []*shared.Request) []Result {
	results := make([]Result, len(requests))
	var eg errgroup.Group
	for i, req := range requests {
		i, req := i, req
		eg.Go(func() error {
			body, err := d.Send(ctx, req)
			results[i] = Result{Request: req, Body: body, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// Send delivers one request and returns the response body.
func (d *Dispatcher) Send(ctx context.Context, req *shared.Request) ([]byte, error) {
	logger := logging.FromContext(ctx).Named("dispatcher").With(zap.Object("request", req))
	timeout := d.cfg.DefaultTimeout
	if req.Circuit != nil && req.Circuit.Timeout > 0 {
		timeout = req.Circuit.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	body, err := d.roundTrip(ctx, req)
	req.Latency = time.Since(started)
	latencyMetric.WithLabelValues(req.Route).Observe(req.Latency.Seconds())
	if err != nil {
		failuresMetric.WithLabelValues(req.Route, reason(err)).Inc()
		logger.Debug("request failed", zap.Duration("latency", req.Latency), zap.Error(err))
		return nil, err
	}
	logger.Debug("request succeeded", zap.Duration("latency", req.Latency), zap.Int("size", len(body)))
	return body, nil
}

func (d *Dispatcher) roundTrip(ctx context.Context, req *shared.Request) ([]byte, error) {
	url := fmt.Sprintf("%s://%s/%s", d.cfg.Scheme, req.Worker.Address, strings.TrimPrefix(req.Route, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", types.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	d.signer.SignRequest(httpReq.Header, req.Payload, req.Worker.Identity)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", types.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if len(bytes.TrimSpace(body)) == 0 || !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not a JSON document", types.ErrMalformedResponse)
	}
	return body, nil
}

func reason(err error) string {
	var statusErr *types.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("status_%d", statusErr.Code)
	case errors.Is(err, types.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
