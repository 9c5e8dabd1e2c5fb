package server

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/textfs/textfs/internal/ds/ring"
	"github.com/textfs/textfs/internal/wire"
	"github.com/textfs/textfs/pkg/dfserrors"
)

// commandReplyTimeout bounds how long a DS-issued control command waits for
// its SNAck before the call is treated as a peer-offline failure.
const commandReplyTimeout = 5 * time.Second

// snConn is one registered storage node's control connection: the
// heartbeat loop and any DS-issued command share it, so replies are
// demultiplexed by message type into replyCh rather than requiring a
// separate connection per concern.
type snConn struct {
	ringID     string // "ip:client_port", the ring.Ring node identity
	numID      uint64 // wire-protocol SN id handed out in RegisterAck
	clientAddr string
	backupAddr string

	conn    net.Conn
	writeMu sync.Mutex
	cmdMu   sync.Mutex // serializes one outstanding command at a time, so replyCh never races between callers
	replyCh chan wire.Frame

	mu       sync.Mutex
	lastSeen time.Time
}

func (sc *snConn) touch() {
	sc.mu.Lock()
	sc.lastSeen = time.Now()
	sc.mu.Unlock()
}

func (sc *snConn) idleSince() time.Duration {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return time.Since(sc.lastSeen)
}

func splitAddr(addr string) (ip string, port int32, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, int32(p), nil
}

// handleSNConn serves one storage node's registration connection for its
// entire lifetime: decode the REGISTER, reply with a RegisterAck, then
// multiplex heartbeats and command acks off the same connection until it
// closes.
func (s *Server) handleSNConn(conn net.Conn) {
	defer s.wg.Done()

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	if frame.Type != wire.MsgRegisterRequest {
		s.log.Warn("expected REGISTER, got message type %d", frame.Type)
		conn.Close()
		return
	}
	req, err := wire.DecodeRegisterRequest(frame.Payload)
	if err != nil {
		s.log.Warn("malformed register request: %v", err)
		conn.Close()
		return
	}

	clientAddr := fmt.Sprintf("%s:%d", req.IP, req.ClientPort)
	backupAddr := fmt.Sprintf("%s:%d", req.IP, req.BackupPort)

	mustRecover, err := s.ring.Register(clientAddr, clientAddr, backupAddr)
	if err != nil {
		s.log.Warn("ring registration failed for %s: %v", clientAddr, err)
		conn.Close()
		return
	}

	sc := &snConn{
		ringID:     clientAddr,
		clientAddr: clientAddr,
		backupAddr: backupAddr,
		conn:       conn,
		replyCh:    make(chan wire.Frame, 1),
		lastSeen:   time.Now(),
	}

	s.mu.Lock()
	if existing, ok := s.byRingID[clientAddr]; ok {
		sc.numID = existing.numID
	} else {
		sc.numID = atomic.AddUint64(&s.nextID, 1)
	}
	s.byRingID[clientAddr] = sc
	s.byNumID[sc.numID] = sc
	s.mu.Unlock()

	ack := wire.RegisterAck{AssignedID: sc.numID, MustRecover: mustRecover}
	if pred := s.ring.Predecessor(clientAddr); pred != "" {
		if predNode, ok := s.ring.Get(pred); ok {
			s.mu.Lock()
			predConn, ok := s.byRingID[predNode.ID]
			s.mu.Unlock()
			if ok {
				ack.HasBackupOf = true
				ack.BackupOf = predConn.numID
			}
		}
	}
	if succ := s.ring.Successor(clientAddr); succ != "" {
		if succNode, ok := s.ring.Get(succ); ok {
			if ip, port, err := splitAddr(succNode.BackupAddr); err == nil {
				ack.HasReplicationTarget = true
				ack.ReplicationTargetIP = ip
				ack.ReplicationTargetPort = port
			}
		}
	}

	if err := wire.WriteMessage(conn, ack); err != nil {
		s.log.Warn("failed to send register ack to %s: %v", clientAddr, err)
		s.dropSN(sc)
		conn.Close()
		return
	}

	s.log.Info("storage node registered: id=%d addr=%s must_recover=%v", sc.numID, clientAddr, mustRecover)
	s.updateRingMetric()

	if mustRecover {
		go s.runRecovery(sc)
	} else {
		go s.broadcastBackupTargets()
	}

	s.readLoop(sc)
}

// readLoop demultiplexes every frame arriving on a registered SN's
// connection: heartbeats just refresh lastSeen, SNAcks are routed to
// whichever sendCommand call is waiting on replyCh.
func (s *Server) readLoop(sc *snConn) {
	defer func() {
		s.dropSN(sc)
		sc.conn.Close()
	}()
	for {
		frame, err := wire.ReadFrame(sc.conn)
		if err != nil {
			return
		}
		if frame.Type == wire.MsgHeartbeat {
			sc.touch()
			continue
		}
		select {
		case sc.replyCh <- frame:
		default:
			s.log.Warn("dropped unexpected reply (type %d) from %s: no command awaiting it", frame.Type, sc.ringID)
		}
	}
}

func (s *Server) dropSN(sc *snConn) {
	s.mu.Lock()
	if cur, ok := s.byRingID[sc.ringID]; ok && cur == sc {
		delete(s.byRingID, sc.ringID)
		delete(s.byNumID, sc.numID)
	}
	s.mu.Unlock()

	successor, err := s.ring.MarkOffline(sc.ringID)
	if err != nil {
		return
	}
	s.updateRingMetric()
	if successor != "" {
		go s.broadcastBackupTargets()
	}
}

// connFor looks up a registered storage node's connection by its ring ID
// ("ip:client_port").
func (s *Server) connFor(ringID string) (*snConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.byRingID[ringID]
	return sc, ok
}

func (s *Server) updateRingMetric() {
	if s.metrics != nil {
		s.metrics.UpdateRingNodesOnline(len(s.ring.OnlineNodes()))
	}
}

// sendAndAwait writes msg to sc's connection and waits for whatever reply
// frame comes back, guarded by a per-node circuit breaker (so one
// unreachable node can't stall commands meant for the rest of the ring)
// and retried per pkg/retry's peer-offline/retry-later policy. cmdMu keeps
// the wait from racing another goroutine's command on the same connection.
func (s *Server) sendAndAwait(sc *snConn, msg wire.Message) (wire.Frame, error) {
	sc.cmdMu.Lock()
	defer sc.cmdMu.Unlock()

	var reply wire.Frame

	attempt := func() error {
		sc.writeMu.Lock()
		err := wire.WriteMessage(sc.conn, msg)
		sc.writeMu.Unlock()
		if err != nil {
			return dfserrors.New(dfserrors.CodePeerOffline, "write to storage node failed").
				WithComponent("ds/server").WithCause(err)
		}

		select {
		case frame := <-sc.replyCh:
			reply = frame
			return nil
		case <-time.After(commandReplyTimeout):
			return dfserrors.New(dfserrors.CodePeerOffline, "storage node did not reply in time").
				WithComponent("ds/server")
		}
	}

	run := attempt
	if s.cbCfg.Enabled {
		breaker := s.breakers.GetBreaker(sc.ringID)
		run = func() error { return breaker.Execute(attempt) }
	}

	err := s.retryer.Do(run)
	return reply, err
}

// sendCommand is sendAndAwait for the command family that replies with a
// plain SNAck (create/delete/sync/re-replicate/update-backup).
func (s *Server) sendCommand(sc *snConn, msg wire.Message) (wire.SNAck, error) {
	frame, err := s.sendAndAwait(sc, msg)
	if err != nil {
		return wire.SNAck{}, err
	}
	ack, derr := wire.DecodeSNAck(frame.Payload)
	if derr != nil {
		return wire.SNAck{}, dfserrors.New(dfserrors.CodeMalformedPayload, "malformed storage node ack").
			WithComponent("ds/server").WithCause(derr)
	}
	if !ack.Success {
		return ack, dfserrors.New(dfserrors.CodeReplicationFailed, "storage node reported failure").
			WithComponent("ds/server")
	}
	return ack, nil
}

// fetchInfo asks sc's storage node for a file's live metadata.
func (s *Server) fetchInfo(sc *snConn, owner, filename string) (wire.SNInfoResponse, error) {
	frame, err := s.sendAndAwait(sc, wire.SNInfoRequest{Owner: owner, Filename: filename})
	if err != nil {
		return wire.SNInfoResponse{}, err
	}
	return wire.DecodeSNInfoResponse(frame.Payload)
}

// fetchContent asks sc's storage node for a file's raw bytes, used by EXEC.
func (s *Server) fetchContent(sc *snConn, owner, filename string) ([]byte, error) {
	frame, err := s.sendAndAwait(sc, wire.SNExecFetchRequest{Owner: owner, Filename: filename})
	if err != nil {
		return nil, err
	}
	resp, derr := wire.DecodeSNExecFetchResponse(frame.Payload)
	if derr != nil {
		return nil, dfserrors.New(dfserrors.CodeMalformedPayload, "malformed exec fetch response").
			WithComponent("ds/server").WithCause(derr)
	}
	return resp.Content, nil
}

// runRecovery drives the three-command sequence that restores a
// reconnected node's data: its successor pushes back the files it was
// backing up (SYNC_FROM_BACKUP), the node itself is told it is ready
// (SYNC_TO_PRIMARY), and its predecessor re-establishes it as the
// predecessor's backup (RE_REPLICATE_ALL).
func (s *Server) runRecovery(sc *snConn) {
	_ = s.ring.SetRecoveryState(sc.ringID, ring.StateSyncFromBackup)

	if succID := s.ring.Successor(sc.ringID); succID != "" {
		succConn, ok := s.connFor(succID)
		if ok {
			ip, port, err := splitAddr(sc.backupAddr)
			if err == nil {
				if _, err := s.sendCommand(succConn, wire.SyncFromBackupCmd{PredecessorIP: ip, PredecessorPort: port}); err != nil {
					s.log.Warn("recovery: sync-from-backup to successor %s failed: %v", succID, err)
				}
			}
		}
	}

	_ = s.ring.SetRecoveryState(sc.ringID, ring.StateReReplicate)
	if _, err := s.sendCommand(sc, wire.SyncToPrimaryCmd{}); err != nil {
		s.log.Warn("recovery: sync-to-primary for %s failed: %v", sc.ringID, err)
	}

	if predID := s.ring.Predecessor(sc.ringID); predID != "" && predID != sc.ringID {
		predConn, ok := s.connFor(predID)
		if ok {
			ip, port, err := splitAddr(sc.backupAddr)
			if err == nil {
				if _, err := s.sendCommand(predConn, wire.ReReplicateAllCmd{TargetIP: ip, TargetPort: port}); err != nil {
					s.log.Warn("recovery: re-replicate-all from predecessor %s failed: %v", predID, err)
				}
			}
		}
	}

	_ = s.ring.SetRecoveryState(sc.ringID, ring.StateOnline)
	s.log.Info("recovery complete for storage node %s", sc.ringID)
	s.broadcastBackupTargets()
}

// broadcastBackupTargets resends UPDATE_BACKUP to every online node after a
// ring topology change, carrying each node's current successor's backup
// address as its new replication target.
func (s *Server) broadcastBackupTargets() {
	for _, node := range s.ring.OnlineNodes() {
		sc, ok := s.connFor(node.ID)
		if !ok {
			continue
		}

		cmd := wire.UpdateBackupCmd{}
		if succID := s.ring.Successor(node.ID); succID != "" {
			if succNode, ok := s.ring.Get(succID); ok {
				if ip, port, err := splitAddr(succNode.BackupAddr); err == nil {
					cmd.HasTarget = true
					cmd.TargetIP = ip
					cmd.TargetPort = port
				}
			}
		}

		go func(sc *snConn, cmd wire.UpdateBackupCmd) {
			if _, err := s.sendCommand(sc, cmd); err != nil {
				s.log.Warn("update-backup to %s failed: %v", sc.ringID, err)
			}
		}(sc, cmd)
	}
}

// monitorHeartbeats periodically marks nodes offline once they have gone
// silent for longer than cfg.HeartbeatTimeout.
func (s *Server) monitorHeartbeats() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

func (s *Server) sweepStale() {
	s.mu.Lock()
	var stale []*snConn
	for _, sc := range s.byRingID {
		if sc.idleSince() > s.cfg.HeartbeatTimeout {
			stale = append(stale, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range stale {
		s.log.Warn("storage node %s missed its heartbeat deadline, closing connection", sc.ringID)
		sc.conn.Close()
	}
}
