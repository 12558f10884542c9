// Package miner serves proving jobs to validators.
package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
	"github.com/proofmesh/proofmesh/types"
)

// internalErrorMessage is the only detail a caller learns about a failure on our side.
const internalErrorMessage = "An error occurred"

var (
	requestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofmesh",
		Subsystem: "miner",
		Name:      "requests_total",
		Help:      "Number of inbound requests by route and status",
	}, []string{"route", "status"})

	proofTimeMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "proofmesh",
		Subsystem: "miner",
		Name:      "proof_duration_seconds",
		Help:      "Time spent generating proofs by circuit",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"circuit"})
)

// Admission decides whether a sender may have jobs executed.
type Admission interface {
	Check(ctx context.Context, identity string) error
}

// CircuitRegistry resolves the circuits this worker can prove.
type CircuitRegistry interface {
	Get(id string) (*shared.Circuit, error)
	Capacities() map[string]int
}

// reply is what a handler answers with. Strings are sent as JSON strings.
type reply struct {
	status int
	body   any
}

func ok(body any) reply {
	return reply{status: http.StatusOK, body: body}
}

func reject(status int, msg string) reply {
	return reply{status: status, body: msg}
}

type handler func(ctx context.Context, body []byte) (reply, error)

type bodyKey struct{}

// Server is the HTTP surface of a worker.
type Server struct {
	cfg       Config
	identity  string
	admission Admission
	circuits  CircuitRegistry
	proofs    types.ProofSystem
	ledger    types.Ledger
	proving   *semaphore.Weighted
	router    *mux.Router
}

type newServerOptionFunc func(*Server)

func WithConfig(cfg Config) newServerOptionFunc {
	return func(s *Server) {
		s.cfg = cfg
	}
}

func NewServer(
	identity string,
	admission Admission,
	circuits CircuitRegistry,
	proofs types.ProofSystem,
	ledger types.Ledger,
	opts ...newServerOptionFunc,
) *Server {
	s := &Server{
		cfg:       DefaultConfig(),
		identity:  identity,
		admission: admission,
		circuits:  circuits,
		proofs:    proofs,
		ledger:    ledger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.proving = semaphore.NewWeighted(max(s.cfg.MaxConcurrentProofs, 1))

	handlers := map[string]handler{
		shared.RouteQueryProof:     s.handleQuery,
		shared.RouteProofOfWeights: s.handleProofOfWeights,
		shared.RouteSliceProof:     s.handleSlice,
		shared.RouteCapacities:     s.handleCapacities,
		shared.RouteCompetition:    s.handleCompetition,
	}
	s.router = mux.NewRouter()
	s.router.Use(s.withRequestLogger, s.authenticate)
	for _, route := range shared.Routes {
		s.router.Handle("/"+route, s.serve(route, handlers[route])).Methods(http.MethodPost)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context()).With(
			zap.Stringer("request_id", uuid.New()),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), logger)))
	})
}

// authenticate runs admission before the signature check so unadmitted senders cost no signature work.
// Both gates must pass.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		creds, err := signing.CredentialsFrom(r.Header)
		if err != nil {
			writeReply(ctx, w, reject(http.StatusUnauthorized, "Missing authentication headers"))
			return
		}
		if err := s.admission.Check(ctx, creds.Sender); err != nil {
			logger.Debug("sender rejected", zap.String("sender", creds.Sender), zap.Error(err))
			writeReply(ctx, w, reject(http.StatusForbidden, "Sender not allowed"))
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize))
		if err != nil {
			writeReply(ctx, w, reject(http.StatusRequestEntityTooLarge, "Request body too large"))
			return
		}
		if !creds.VerifyPayload(body) {
			logger.Debug("invalid signature", zap.String("sender", creds.Sender), zap.Error(types.ErrAuthentication))
			writeReply(ctx, w, reject(http.StatusUnauthorized, "Invalid signature"))
			return
		}
		if creds.Target != s.identity {
			logger.Debug("request addressed to another worker", zap.String("target", creds.Target))
			writeReply(ctx, w, reject(http.StatusUnauthorized, "Invalid target identity"))
			return
		}
		ctx = logging.NewContext(ctx, logger.With(zap.String("sender", creds.Sender)))
		ctx = context.WithValue(ctx, bodyKey{}, body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) serve(route string, h handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, _ := ctx.Value(bodyKey{}).([]byte)
		res, err := s.call(ctx, h, body)
		if err != nil {
			logging.FromContext(ctx).Error("request failed", zap.Error(err))
			res = reject(http.StatusInternalServerError, internalErrorMessage)
		}
		requestsMetric.WithLabelValues(route, http.StatusText(res.status)).Inc()
		writeReply(ctx, w, res)
	})
}

func (s *Server) call(ctx context.Context, h handler, body []byte) (res reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("handler panicked")
			logging.FromContext(ctx).Error("recovered panic", zap.Any("panic", r))
		}
	}()
	return h(ctx, body)
}

func writeReply(ctx context.Context, w http.ResponseWriter, res reply) {
	data, err := json.Marshal(res.body)
	if err != nil {
		logging.FromContext(ctx).Error("encoding reply", zap.Error(err))
		res.status = http.StatusInternalServerError
		data, _ = json.Marshal(internalErrorMessage)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(ctx).Debug("writing reply", zap.Error(err))
	}
}

// prove runs a proof on the bounded proving pool.
func (s *Server) prove(ctx context.Context, job types.ProveJob) (*types.Proof, error) {
	if err := s.proving.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.proving.Release(1)

	started := time.Now()
	proof, err := s.proofs.Prove(ctx, job)
	if err != nil {
		return nil, err
	}
	took := time.Since(started)
	proofTimeMetric.WithLabelValues(job.Circuit.ID).Observe(took.Seconds())
	return proof, nil
}
