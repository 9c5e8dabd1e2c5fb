// Package server wires the directory service's building blocks (ring
// topology, file map, access control, location cache, user store) to the
// network: a client-facing listener for login/view/create/delete/info/
// redirect traffic, and a storage-node-facing listener for registration,
// heartbeats, and recovery orchestration.
package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/textfs/textfs/internal/circuit"
	"github.com/textfs/textfs/internal/config"
	"github.com/textfs/textfs/internal/ds/access"
	"github.com/textfs/textfs/internal/ds/dscache"
	"github.com/textfs/textfs/internal/ds/filemap"
	"github.com/textfs/textfs/internal/ds/ring"
	"github.com/textfs/textfs/internal/ds/users"
	"github.com/textfs/textfs/internal/metrics"
	"github.com/textfs/textfs/internal/wire"
	"github.com/textfs/textfs/pkg/dfserrors"
	"github.com/textfs/textfs/pkg/health"
	"github.com/textfs/textfs/pkg/obslog"
	"github.com/textfs/textfs/pkg/retry"
)

// Server is the directory service: the network surface around the ring,
// file map, access store, and location cache.
type Server struct {
	cfg      config.DirectoryServiceConfig
	cacheCfg config.CacheConfig
	cbCfg    config.CircuitBreakerConfig
	secCfg   config.SecurityConfig
	log      *obslog.Logger

	users  *users.Store
	access *access.Store
	reqs   *access.RequestStore
	fmap   *filemap.Map
	cache  *dscache.Cache
	ring   *ring.Ring

	health   *health.Tracker
	metrics  *metrics.Collector
	breakers *circuit.Manager
	retryer  *retry.Retryer

	mu       sync.Mutex
	byRingID map[string]*snConn // ring node ID ("ip:client_port") -> connection
	byNumID  map[uint64]*snConn // wire-protocol SN id -> connection
	nextID   uint64

	clientLn net.Listener
	snLn     net.Listener

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Server over fresh in-memory ring/file-map/cache state,
// loading any persisted user and access data found under cfg's paths.
// healthTracker/metricsCollector may be nil, in which case the
// corresponding feature is skipped.
func New(
	cfg config.DirectoryServiceConfig,
	cacheCfg config.CacheConfig,
	cbCfg config.CircuitBreakerConfig,
	secCfg config.SecurityConfig,
	log *obslog.Logger,
	healthTracker *health.Tracker,
	metricsCollector *metrics.Collector,
) (*Server, error) {
	if log == nil {
		log = obslog.New(obslog.Info, nil)
	}
	log = log.WithComponent("ds")

	userStore := users.New(cfg.UserDBPath)
	if cfg.UserDBPath != "" {
		if err := userStore.Load(); err != nil {
			return nil, fmt.Errorf("ds/server: loading user database: %w", err)
		}
	}

	acc := access.New(cfg.AccessDBDir)
	for _, u := range userStore.List() {
		if err := acc.Load(u); err != nil {
			return nil, fmt.Errorf("ds/server: loading access data for %s: %w", u, err)
		}
	}

	s := &Server{
		cfg:      cfg,
		cacheCfg: cacheCfg,
		cbCfg:    cbCfg,
		secCfg:   secCfg,
		log:      log,
		users:    userStore,
		access:   acc,
		reqs:     access.NewRequestStore(),
		fmap:     filemap.New(),
		cache:    dscache.New(cacheCfg.Capacity),
		ring:     ring.New(),
		health:   healthTracker,
		metrics:  metricsCollector,
		breakers: circuit.NewManager(circuit.Config{
			MaxRequests: cbCfg.HalfOpenRequests,
			Timeout:     cbCfg.OpenTimeout,
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.ConsecutiveFailures >= cbCfg.FailureThreshold
			},
		}),
		retryer:  retry.New(retry.DefaultConfig()),
		byRingID: make(map[string]*snConn),
		byNumID:  make(map[uint64]*snConn),
		stop:     make(chan struct{}),
	}
	return s, nil
}

// Start opens the client and storage-node listeners and launches their
// accept loops, plus the heartbeat-timeout monitor. It returns once both
// listeners are bound.
func (s *Server) Start() error {
	clientLn, err := net.Listen("tcp", s.cfg.ClientAddr)
	if err != nil {
		return dfserrors.New(dfserrors.CodeListenFailed, "failed to bind client listener").
			WithComponent("ds/server").WithOperation("Start").WithCause(err)
	}
	s.clientLn = clientLn

	snLn, err := net.Listen("tcp", s.cfg.SNAddr)
	if err != nil {
		_ = clientLn.Close()
		return dfserrors.New(dfserrors.CodeListenFailed, "failed to bind storage-node listener").
			WithComponent("ds/server").WithOperation("Start").WithCause(err)
	}
	s.snLn = snLn

	s.wg.Add(1)
	go s.acceptLoop(clientLn, s.handleClientConn)

	s.wg.Add(1)
	go s.acceptLoop(snLn, s.handleSNConn)

	s.wg.Add(1)
	go s.monitorHeartbeats()

	return nil
}

// Stop closes every listener and registered storage-node connection and
// waits for background goroutines to exit.
func (s *Server) Stop() {
	close(s.stop)
	if s.clientLn != nil {
		_ = s.clientLn.Close()
	}
	if s.snLn != nil {
		_ = s.snLn.Close()
	}
	s.mu.Lock()
	for _, sc := range s.byRingID {
		_ = sc.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Warn("accept failed: %v", err)
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(conn)
		}()
	}
}

func (s *Server) recordOp(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start), 0, err == nil)
		if err != nil {
			s.metrics.RecordError(op, err)
		}
	}
	if s.health != nil {
		if err != nil {
			s.health.RecordError("ds-"+op, err)
		} else {
			s.health.RecordSuccess("ds-" + op)
		}
	}
}

func sendFail(conn net.Conn, err error) {
	code := string(dfserrors.CodeInternal)
	if de, ok := err.(*dfserrors.Error); ok {
		code = string(de.Code)
	}
	_ = wire.WriteMessage(conn, wire.Fail{Code: code, Message: err.Error()})
}
