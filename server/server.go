package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/admission"
	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/hashguard"
	"github.com/proofmesh/proofmesh/ledger"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/miner"
	"github.com/proofmesh/proofmesh/proofsys"
	"github.com/proofmesh/proofmesh/queue"
	"github.com/proofmesh/proofmesh/runs"
	"github.com/proofmesh/proofmesh/scheduler"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
	"github.com/proofmesh/proofmesh/validator"
)

const rotationStateFilename = "rotation.bin"

type svc interface {
	Run(ctx context.Context) error
}

// Server runs one node, either a validator or a worker, on a development ledger.
type Server struct {
	cfg     Config
	signer  *signing.Signer
	ledger  *ledger.Memory
	service svc
	closers []io.Closer

	session   *miner.Session
	validator *validator.Validator

	metricsListener net.Listener
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := logging.FromContext(ctx)
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}

	s, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, s); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	signer, err := signing.NewSigner(s.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	logger.Info("identity", zap.String("identity", signer.Identity()), zap.String("role", cfg.Role))

	if cfg.CircuitsFile == "" {
		return nil, errors.New("no circuits file configured")
	}
	circuits, err := circuit.LoadFile(cfg.CircuitsFile)
	if err != nil {
		return nil, err
	}

	var members []shared.Member
	if cfg.MembersFile != "" {
		if members, err = ledger.LoadMembers(cfg.MembersFile); err != nil {
			return nil, err
		}
	}
	server := &Server{
		cfg:    cfg,
		signer: signer,
		ledger: ledger.NewMemory(ledger.WithMembers(members...)),
	}

	if cfg.MetricsPort != nil {
		addr := net.JoinHostPort("", strconv.Itoa(int(*cfg.MetricsPort)))
		if server.metricsListener, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	}

	switch cfg.Role {
	case RoleWorker:
		err = server.newWorker(ctx, circuits)
	case RoleValidator:
		err = server.newValidator(ctx, circuits)
	default:
		err = fmt.Errorf("unknown role %q", cfg.Role)
	}
	if err != nil {
		return nil, errors.Join(err, server.Close())
	}
	return server, nil
}

func (s *Server) newWorker(ctx context.Context, circuits *circuit.Store) error {
	identity := s.signer.Identity()
	members := ledger.NewCache(s.ledger)
	if _, err := members.Refresh(ctx); err != nil {
		return err
	}
	handler := miner.NewServer(
		identity,
		admission.New(ctx, members, s.cfg.Admission),
		circuits,
		proofsys.NewDigest(),
		s.ledger,
		miner.WithConfig(s.cfg.Worker),
	)
	rotation, err := scheduler.New(
		s.ledger,
		identity,
		scheduler.WithConfig(s.cfg.Scheduler),
		scheduler.WithStateFile(filepath.Join(s.cfg.DataDir, rotationStateFilename)),
	)
	if err != nil {
		return fmt.Errorf("creating maintenance scheduler: %w", err)
	}
	session, err := miner.NewSession(s.cfg.Worker, identity, handler, members, rotation)
	if err != nil {
		return err
	}
	s.session = session
	s.service = session
	return nil
}

func (s *Server) newValidator(ctx context.Context, circuits *circuit.Store) error {
	cfg := s.cfg.Validator
	var q queue.Queue = queue.NewMemory()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.closers = append(s.closers, client)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis @ %s: %w", cfg.RedisAddr, err)
		}
		q = queue.NewRedis(client, circuits, queue.WithKey(cfg.RedisKey))
	}

	guard, err := hashguard.New(s.cfg.HashGuard)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.RunDir, 0o700); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	members := ledger.NewCache(s.ledger)
	if _, err := members.Refresh(ctx); err != nil {
		return err
	}
	proofs := proofsys.NewDigest()
	coordinator := runs.New(cfg.RunDir, proofs, proofsys.Slicer{})
	d := dispatcher.New(s.signer, dispatcher.WithConfig(s.cfg.Dispatcher))
	v, err := validator.New(s.signer.Identity(), members, q, circuits, d, proofs, coordinator, guard,
		validator.WithConfig(cfg))
	if err != nil {
		return err
	}
	s.closers = append(s.closers, v)
	s.validator = v
	s.service = v
	return nil
}

// Close releases the resources held by the server.
func (s *Server) Close() error {
	var result *multierror.Error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.metricsListener != nil {
		if err := s.metricsListener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Server) PublicKey() ed25519.PublicKey {
	return s.signer.PublicKey()
}

func (s *Server) Identity() string {
	return s.signer.Identity()
}

// Ledger is the development ledger the node runs on.
func (s *Server) Ledger() *ledger.Memory {
	return s.ledger
}

// Session is the worker session, nil on validators.
func (s *Server) Session() *miner.Session {
	return s.session
}

// Validator is nil on workers.
func (s *Server) Validator() *validator.Validator {
	return s.validator
}

// MetricsAddr returns the address metrics are served on, nil if disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Start runs the node until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			logging.FromContext(ctx).Error("failed to close server", zap.Error(err))
		}
	}()
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	logger.Info("starting development ledger", zap.Duration("block-time", s.cfg.BlockTime))
	serverGroup.Go(func() error {
		return s.ledger.Run(ctx, s.cfg.BlockTime)
	})

	logger.Sugar().Infof("starting %s service", s.cfg.Role)
	serverGroup.Go(func() error {
		return s.service.Run(ctx)
	})

	var metricsServer *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", s.metricsListener.Addr())
			err := metricsServer.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
