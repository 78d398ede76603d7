package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	pb "github.com/ppiankov/delayguard/api/delayguard/v1"
	"github.com/ppiankov/delayguard/internal/activation"
	"github.com/ppiankov/delayguard/internal/alert"
	"github.com/ppiankov/delayguard/internal/audit"
	"github.com/ppiankov/delayguard/internal/config"
	"github.com/ppiankov/delayguard/internal/event"
	"github.com/ppiankov/delayguard/internal/guard"
	"github.com/ppiankov/delayguard/internal/index"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/ratelimit"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/sigcheck"
	"github.com/ppiankov/delayguard/internal/store"
)

// Config holds gRPC server configuration.
type Config struct {
	// ConfigPath is the YAML configuration file. Empty uses the default.
	ConfigPath string
	// Listen overrides server.listen from the configuration file.
	Listen string
	// Resolver overrides the account resolver built from chain settings.
	Resolver safe.Resolver
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Server implements the DelayGuard gRPC service.
type Server struct {
	mu         sync.RWMutex
	conf       *config.Config
	configHash string

	cfg        Config
	engine     *guard.Engine
	store      store.Store
	resolver   safe.Resolver
	verifier   sigcheck.Verifier
	index      *index.Index
	dispatcher *alert.Dispatcher
	limiter    *ratelimit.Limiter
	auditLog   *audit.Log
	rpc        *ethclient.Client
	logger     *slog.Logger

	grpcServer *grpc.Server
	health     *health.Server
}

// New creates a server from the configuration file: opens the store and
// audit log, connects to the chain when configured and rebuilds the
// transaction index.
func New(cfg Config) (*Server, error) {
	conf, hash, err := config.LoadWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		conf:       conf,
		configHash: hash,
		cfg:        cfg,
		resolver:   cfg.Resolver,
		index:      index.New(),
		dispatcher: alert.NewDispatcher(conf.Alerts),
		limiter:    ratelimit.NewLimiter(conf.RateLimits, cfg.Clock),
		logger:     cfg.Logger,
	}
	s.dispatcher.Update(conf.Alerts, hash)
	s.dispatcher.SetLogger(cfg.Logger)

	if err := s.open(conf); err != nil {
		s.Close()
		return nil, err
	}

	bus := event.NewBus(s.index, s.dispatcher)
	if s.auditLog != nil {
		bus.Subscribe(s.auditLog)
	}
	s.engine = guard.New(s.store, guard.Config{
		Self:               conf.Engine(),
		Delay:              conf.Delay,
		Strategy:           conf.Strategy(),
		StrictGuardRemoval: conf.StrictGuardRemoval,
		Limits:             conf.Limits,
		Verifier:           s.verifier,
		Clock:              cfg.Clock,
		Bus:                bus,
		Logger:             cfg.Logger,
	})

	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.rateLimit))
	s.health = health.NewServer()
	pb.RegisterDelayGuardServer(s.grpcServer, &service{s: s})
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

func (s *Server) open(conf *config.Config) error {
	var err error
	s.store, err = store.Open(conf.Store.Driver, config.ExpandHome(conf.Store.Path))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if s.resolver == nil {
		if conf.Chain.RPCURL != "" {
			s.rpc, err = ethclient.DialContext(context.Background(), conf.Chain.RPCURL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", conf.Chain.RPCURL, err)
			}
			s.resolver = safe.RemoteResolver{Backend: s.rpc}
		} else {
			s.resolver = safe.NewRegistry(conf.ChainID())
		}
	}
	if s.rpc != nil {
		s.verifier = sigcheck.NewChecker(s.rpc)
	} else {
		s.verifier = sigcheck.NewChecker(nil)
	}

	if conf.AuditLog == "" {
		return nil
	}
	path := config.ExpandHome(conf.AuditLog)
	// An in-memory store starts empty, so old allowances must not reappear
	// in the index.
	if conf.Store.Driver == "sqlite" {
		result, err := audit.Replay(path, audit.ReplayFilter{Kind: model.EventTxAllowed})
		if err == nil {
			s.index.Rebuild(result.Events())
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to rebuild index: %w", err)
		}
	}
	s.auditLog, err = audit.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	s.auditLog.SetConfigHash(s.configHash)
	s.auditLog.SetLogger(s.logger)
	return nil
}

// Engine returns the engine the server fronts.
func (s *Server) Engine() *guard.Engine { return s.engine }

// Index returns the transaction index.
func (s *Server) Index() *index.Index { return s.index }

// Resolver returns the account resolver.
func (s *Server) Resolver() safe.Resolver { return s.resolver }

// ConfigHash returns the hash of the loaded configuration.
func (s *Server) ConfigHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configHash
}

// ConfigPath returns the configuration file being served.
func (s *Server) ConfigPath() string {
	if s.cfg.ConfigPath != "" {
		return s.cfg.ConfigPath
	}
	return config.DefaultPath()
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	addr := s.cfg.Listen
	if addr == "" {
		addr = s.conf.Server.Listen
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.logger.Info("serving", "addr", lis.Addr().String(), "engine", s.engine.Self().Hex(), "config_hash", s.ConfigHash())
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Close waits for pending alerts and releases the store, audit log and
// chain connection.
func (s *Server) Close() error {
	s.dispatcher.Wait()
	var errs []error
	if s.auditLog != nil {
		errs = append(errs, s.auditLog.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.rpc != nil {
		s.rpc.Close()
	}
	return errors.Join(errs...)
}

// Reload re-reads the configuration file and swaps the alert destinations
// and config hash. Engine parameters are fixed for the life of the server;
// changing them only logs a warning.
func (s *Server) Reload() error {
	conf, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	s.mu.Lock()
	old := s.conf
	s.conf = conf
	s.configHash = hash
	s.mu.Unlock()

	s.dispatcher.Update(conf.Alerts, hash)
	s.limiter.Update(conf.RateLimits)
	if s.auditLog != nil {
		s.auditLog.SetConfigHash(hash)
	}
	if restartRequired(old, conf) {
		s.logger.Warn("config change requires restart to take effect", "config_hash", hash)
	}
	return nil
}

func restartRequired(old, next *config.Config) bool {
	return old.EngineAddress != next.EngineAddress ||
		old.Delay != next.Delay ||
		old.Installation != next.Installation ||
		old.StrictGuardRemoval != next.StrictGuardRemoval ||
		old.Limits != next.Limits ||
		old.Store != next.Store ||
		old.Chain != next.Chain ||
		old.AuditLog != next.AuditLog
}

func (s *Server) now() uint64 {
	return activation.Unix(s.cfg.Clock())
}
