package miner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"

	"github.com/proofmesh/proofmesh/ledger"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/scheduler"
	"github.com/proofmesh/proofmesh/types"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "proofmesh.worker"

// Session keeps a worker alive: it serves jobs, follows membership and takes its maintenance turns.
type Session struct {
	cfg        Config
	identity   string
	server     *Server
	members    *ledger.Cache
	rotation   *scheduler.GroupScheduler
	health     *health.Server
	registered atomic.Bool

	listener       net.Listener
	healthListener net.Listener
}

func NewSession(
	cfg Config,
	identity string,
	server *Server,
	members *ledger.Cache,
	rotation *scheduler.GroupScheduler,
) (*Session, error) {
	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s := &Session{
		cfg:      cfg,
		identity: identity,
		server:   server,
		members:  members,
		rotation: rotation,
		health:   health.NewServer(),
		listener: listener,
	}
	if cfg.HealthListen != "" {
		s.healthListener, err = net.Listen("tcp", cfg.HealthListen)
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

// Addr is the address jobs are served on.
func (s *Session) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Session) HealthAddr() net.Addr {
	if s.healthListener == nil {
		return nil
	}
	return s.healthListener.Addr()
}

// CheckRegistration refreshes membership and reports whether this worker is a member.
func (s *Session) CheckRegistration(ctx context.Context) error {
	snapshot, err := s.members.Refresh(ctx)
	if err != nil {
		return err
	}
	member, ok := snapshot.Lookup(s.identity)
	s.registered.Store(ok)
	if !ok {
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return fmt.Errorf("%w: %s", types.ErrNotMember, s.identity)
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	logging.FromContext(ctx).Debug("registered", zap.Uint16("uid", member.UID), zap.Float64("stake", member.Stake))
	return nil
}

func (s *Session) Registered() bool {
	return s.registered.Load()
}

// Tasks are the periodic duties of the worker, each on its own cadence.
func (s *Session) Tasks() []scheduler.Task {
	return []scheduler.Task{
		{
			Name:     "membership",
			Interval: s.cfg.SyncInterval,
			Run: func(ctx context.Context) error {
				_, err := s.members.Refresh(ctx)
				return err
			},
		},
		{
			Name:     "registration",
			Interval: s.cfg.RegisterInterval,
			Run:      s.CheckRegistration,
		},
		{
			Name:     "status",
			Interval: s.cfg.StatusInterval,
			Run:      s.logStatus,
		},
		s.rotation.Task(),
	}
}

func (s *Session) logStatus(ctx context.Context) error {
	snapshot := s.members.Snapshot()
	member, ok := snapshot.Lookup(s.identity)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotMember, s.identity)
	}
	fields := []zap.Field{
		zap.Uint64("block", snapshot.Block),
		zap.Uint16("uid", member.UID),
		zap.Float64("stake", member.Stake),
	}
	state := s.rotation.State()
	if idx := slices.Index(state.Order, s.identity); state.Computed && idx >= 0 {
		cfg := s.rotation.Config()
		group := uint64(idx) % cfg.Groups
		next := cfg.NextMaintenance(state.Epoch, group)
		fields = append(fields,
			zap.Uint64("group", group),
			zap.Uint64("next_maintenance_epoch", next),
			zap.Uint64("next_maintenance_block", cfg.StartBlock(next)),
		)
	}
	logging.FromContext(ctx).Info("worker status", fields...)
	return nil
}

// Run serves until ctx is canceled. A worker that is not a member at start-up does not start.
func (s *Session) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("worker")
	ctx = logging.NewContext(ctx, logger)
	if err := s.CheckRegistration(ctx); err != nil {
		s.close()
		return fmt.Errorf("worker is not registered, register it and try again: %w", err)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	runner := scheduler.NewRunner(s.Tasks()...)
	eg.Go(func() error {
		return runner.Run(ctx)
	})

	server := &http.Server{
		Handler:           s.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	eg.Go(func() error {
		logger.Sugar().Infof("serving jobs on %s", s.listener.Addr())
		err := server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	var grpcServer *grpc.Server
	if s.healthListener != nil {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(loggerInterceptor(logger)))
		healthpb.RegisterHealthServer(grpcServer, s.health)
		reflection.Register(grpcServer)
		eg.Go(func() error {
			logger.Sugar().Infof("GRPC health service listening on %s", s.healthListener.Addr())
			return grpcServer.Serve(s.healthListener)
		})
	}

	<-ctx.Done()
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", zap.Error(err))
	}
	if err := eg.Wait(); err != nil {
		logger.Error("error when waiting to shutdown servers", zap.Error(err))
	}
	return nil
}

func (s *Session) close() {
	s.listener.Close()
	if s.healthListener != nil {
		s.healthListener.Close()
	}
}

// loggerInterceptor attaches a request scoped logger to every gRPC call.
func loggerInterceptor(
	logger *zap.Logger,
) func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger := logger.Named(info.FullMethod).With(zap.Stringer("request_id", uuid.New()))
		if p, ok := peer.FromContext(ctx); ok {
			logger = logger.With(zap.Stringer("from", p.Addr))
		}
		ctx = logging.NewContext(ctx, logger)
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Info("FAILURE", zap.Error(err))
		}
		return resp, err
	}
}
