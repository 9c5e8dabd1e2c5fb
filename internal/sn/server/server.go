// Package server wires the storage node's building blocks (on-disk file
// ops, metadata, locks, write transactions, and the replication queue) to
// the network: a client-facing listener for read/stream/write/undo/
// checkpoint traffic, a control connection to the directory service for
// registration, heartbeats, and DS-issued commands, and a peer listener
// that accepts inbound replication pushes from the SN this one backs up.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/textfs/textfs/internal/archival"
	"github.com/textfs/textfs/internal/config"
	"github.com/textfs/textfs/internal/sn/fsops"
	"github.com/textfs/textfs/internal/sn/lock"
	"github.com/textfs/textfs/internal/sn/metastore"
	"github.com/textfs/textfs/internal/sn/replicate"
	"github.com/textfs/textfs/internal/wire"
	"github.com/textfs/textfs/pkg/dfserrors"
	"github.com/textfs/textfs/pkg/health"
	"github.com/textfs/textfs/pkg/obslog"
	"github.com/textfs/textfs/pkg/recovery"

	"github.com/textfs/textfs/internal/metrics"
)

// Server is one storage node: the client/DS/peer network surface around an
// fsops.Store, a metastore.Store, a lock.Table, and a replication pipeline.
type Server struct {
	cfg      config.StorageNodeConfig
	log      *obslog.Logger
	fs       *fsops.Store
	meta     *metastore.Store
	locks    *lock.Table
	queue    *replicate.Queue
	worker   *replicate.Worker
	inbound  *replicate.Listener
	archiver *archival.Archiver // nil when archival is disabled
	health   *health.Tracker
	metrics  *metrics.Collector
	recovery *recovery.RecoveryManager

	mu         sync.RWMutex
	snID       uint64
	replTarget string // host:port this SN ships updates to; empty if it has no backup
	dsConn     net.Conn
	dsWriteMu  sync.Mutex

	clientLn net.Listener
	peerLn   net.Listener

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Server rooted at cfg's data directories. archiver and
// healthTracker/metricsCollector may be nil, in which case the
// corresponding feature is skipped.
func New(cfg config.StorageNodeConfig, log *obslog.Logger, archiver *archival.Archiver, healthTracker *health.Tracker, metricsCollector *metrics.Collector) (*Server, error) {
	if log == nil {
		log = obslog.New(obslog.Info, nil)
	}
	log = log.WithComponent("sn")

	fs, err := fsops.New(cfg.FilesDir, cfg.SwapDir, cfg.UndoDir, cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	meta := metastore.New()
	if cfg.MetadataSnapshot != "" {
		if err := meta.Load(cfg.MetadataSnapshot); err != nil {
			return nil, fmt.Errorf("sn/server: loading metadata snapshot: %w", err)
		}
	}

	recoveryCfg := recovery.DefaultRecoveryConfig()
	recoveryCfg.Logger = log

	s := &Server{
		cfg:      cfg,
		log:      log,
		fs:       fs,
		meta:     meta,
		locks:    lock.NewTable(),
		queue:    replicate.NewQueue(cfg.ReplicationQueue),
		archiver: archiver,
		health:   healthTracker,
		metrics:  metricsCollector,
		recovery: recovery.NewRecoveryManager(recoveryCfg),
		stop:     make(chan struct{}),
	}
	s.inbound = replicate.NewListener(fs, log)
	s.worker = replicate.NewWorker(s.queue, s, log)
	return s, nil
}

// Start opens the client and peer listeners, registers with the directory
// service at cfg.DSAddr, and launches the background goroutines (replication
// worker, DS control loop, heartbeat). Registration runs before Start
// returns; a registration failure is logged and recorded, not returned.
func (s *Server) Start() error {
	clientLn, err := net.Listen("tcp", s.cfg.ClientAddr)
	if err != nil {
		return dfserrors.New(dfserrors.CodeListenFailed, "failed to bind client listener").
			WithComponent("sn/server").WithOperation("Start").WithCause(err)
	}
	s.clientLn = clientLn

	peerLn, err := net.Listen("tcp", s.cfg.BackupAddr)
	if err != nil {
		_ = clientLn.Close()
		return dfserrors.New(dfserrors.CodeListenFailed, "failed to bind peer listener").
			WithComponent("sn/server").WithOperation("Start").WithCause(err)
	}
	s.peerLn = peerLn

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Run()
	}()

	s.wg.Add(1)
	go s.acceptLoop(clientLn, s.handleClientConn)

	s.wg.Add(1)
	go s.acceptLoop(peerLn, s.handlePeerConn)

	if err := s.recovery.Execute(context.Background(), "ds-registration", "register", s.registerWithDS); err != nil {
		s.log.Error("directory service registration failed: %v", err)
		if s.health != nil {
			s.health.RecordError("sn-registration", err)
		}
	} else if s.health != nil {
		s.health.RecordSuccess("sn-registration")
	}

	return nil
}

// Stop closes every listener and connection and waits for background
// goroutines to exit.
func (s *Server) Stop() {
	close(s.stop)
	if s.clientLn != nil {
		_ = s.clientLn.Close()
	}
	if s.peerLn != nil {
		_ = s.peerLn.Close()
	}
	s.mu.Lock()
	if s.dsConn != nil {
		_ = s.dsConn.Close()
	}
	s.mu.Unlock()
	s.worker.Stop()
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
			defer conn.Close()
			handle(conn)
		}()
	}
}

func (s *Server) recordOp(op string, start time.Time, size int64, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start), size, err == nil)
		if err != nil {
			s.metrics.RecordError(op, err)
		}
	}
	if s.health != nil {
		if err != nil {
			s.health.RecordError("sn-fsops", err)
		} else {
			s.health.RecordSuccess("sn-fsops")
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
