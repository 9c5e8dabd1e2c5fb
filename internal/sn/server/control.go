package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/textfs/textfs/internal/sn/metastore"
	"github.com/textfs/textfs/internal/sn/replicate"
	"github.com/textfs/textfs/internal/wire"
)

func portOf(addr string) int32 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(portStr)
	return int32(p)
}

// registerWithDS dials the directory service's SN-facing address, sends a
// REGISTER carrying every file this node already holds, and keeps the
// connection open for heartbeats and DS-issued control commands.
func (s *Server) registerWithDS() error {
	conn, err := net.Dial("tcp", s.cfg.DSAddr)
	if err != nil {
		return fmt.Errorf("sn/server: dial directory service at %s: %w", s.cfg.DSAddr, err)
	}

	localIP, _, _ := net.SplitHostPort(conn.LocalAddr().String())

	var files []wire.RegisterFileEntry
	for filename, md := range s.meta.Snapshot() {
		files = append(files, wire.RegisterFileEntry{Filename: filename, Size: md.Size})
	}

	req := wire.RegisterRequest{
		IP:         localIP,
		ClientPort: portOf(s.cfg.ClientAddr),
		BackupPort: portOf(s.cfg.BackupAddr),
		Files:      files,
	}
	if err := wire.WriteMessage(conn, req); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sn/server: send register request: %w", err)
	}

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("sn/server: read register ack: %w", err)
	}
	ack, err := wire.DecodeRegisterAck(frame.Payload)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("sn/server: decode register ack: %w", err)
	}

	s.mu.Lock()
	s.dsConn = conn
	s.snID = ack.AssignedID
	if ack.HasReplicationTarget {
		s.replTarget = fmt.Sprintf("%s:%d", ack.ReplicationTargetIP, ack.ReplicationTargetPort)
	} else {
		s.replTarget = ""
	}
	s.mu.Unlock()

	s.log.Info("registered with directory service: assigned_id=%d must_recover=%v", ack.AssignedID, ack.MustRecover)

	s.wg.Add(2)
	go s.heartbeatLoop(conn)
	go s.controlLoop(conn)
	return nil
}

func (s *Server) heartbeatLoop(conn net.Conn) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			id := s.snID
			s.mu.RUnlock()
			s.dsWriteMu.Lock()
			err := wire.WriteMessage(conn, wire.Heartbeat{SNID: id})
			s.dsWriteMu.Unlock()
			if err != nil {
				s.log.Warn("heartbeat failed: %v", err)
				return
			}
		}
	}
}

// controlLoop reads DS-issued commands off the registration connection
// until it closes or the server stops. Every command gets exactly one
// reply, sent on the same connection under dsWriteMu since the heartbeat
// loop writes there too.
func (s *Server) controlLoop(conn net.Conn) {
	defer s.wg.Done()
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.log.Warn("control connection closed: %v", err)
			}
			return
		}
		s.dispatchControl(conn, frame)
	}
}

func (s *Server) dispatchControl(conn net.Conn, frame wire.Frame) {
	reply := func(msg wire.Message) {
		s.dsWriteMu.Lock()
		defer s.dsWriteMu.Unlock()
		if err := wire.WriteMessage(conn, msg); err != nil {
			s.log.Warn("failed to reply to control command: %v", err)
		}
	}

	switch frame.Type {
	case wire.MsgSNCreateCmd:
		m, err := wire.DecodeSNCreateCmd(frame.Payload)
		if err != nil {
			s.log.Warn("malformed create command: %v", err)
			return
		}
		ok := true
		if err := s.fs.Create(m.Owner, m.Filename, nil); err != nil {
			s.log.Warn("create command failed for %s:%s: %v", m.Owner, m.Filename, err)
			ok = false
		} else {
			s.meta.Put(m.Filename, metastore.FileMetadata{Owner: m.Owner, LastModified: time.Now()})
			if s.queue != nil {
				s.queue.TryEnqueue(replicate.Job{Op: replicate.OpUpdate, Owner: m.Owner, Filename: m.Filename})
			}
		}
		reply(wire.SNAck{Success: ok})

	case wire.MsgSNDeleteCmd:
		m, err := wire.DecodeSNDeleteCmd(frame.Payload)
		if err != nil {
			s.log.Warn("malformed delete command: %v", err)
			return
		}
		ok := true
		if err := s.fs.Delete(m.Owner, m.Filename); err != nil {
			s.log.Warn("delete command failed for %s:%s: %v", m.Owner, m.Filename, err)
			ok = false
		} else {
			s.meta.Delete(m.Filename)
		}
		reply(wire.SNAck{Success: ok})

	case wire.MsgSNInfoRequest:
		m, err := wire.DecodeSNInfoRequest(frame.Payload)
		if err != nil {
			s.log.Warn("malformed info request: %v", err)
			return
		}
		md, _ := s.meta.Get(m.Filename)
		reply(wire.SNInfoResponse{
			Size: md.Size, Words: md.WordCount, Chars: md.CharCount,
			LastAccessSec: md.LastAccess.Unix(), LastModSec: md.LastModified.Unix(),
		})

	case wire.MsgSNExecFetchRequest:
		m, err := wire.DecodeSNExecFetchRequest(frame.Payload)
		if err != nil {
			s.log.Warn("malformed exec fetch request: %v", err)
			return
		}
		content, err := s.fs.Read(m.Owner, m.Filename)
		if err != nil {
			s.log.Warn("exec fetch failed for %s:%s: %v", m.Owner, m.Filename, err)
			content = nil
		}
		reply(wire.SNExecFetchResponse{Content: content})

	case wire.MsgSyncToPrimaryCmd:
		reply(wire.SNAck{Success: true})

	case wire.MsgSyncFromBackupCmd:
		m, err := wire.DecodeSyncFromBackupCmd(frame.Payload)
		if err != nil {
			s.log.Warn("malformed sync-from-backup command: %v", err)
			return
		}
		target := fmt.Sprintf("%s:%d", m.PredecessorIP, m.PredecessorPort)
		ok := s.pushFiles(target, func(md metastore.FileMetadata) bool { return md.IsBackup })
		reply(wire.SNAck{Success: ok})

	case wire.MsgReReplicateAllCmd:
		m, err := wire.DecodeReReplicateAllCmd(frame.Payload)
		if err != nil {
			s.log.Warn("malformed re-replicate command: %v", err)
			return
		}
		target := fmt.Sprintf("%s:%d", m.TargetIP, m.TargetPort)
		ok := s.pushFiles(target, func(md metastore.FileMetadata) bool { return !md.IsBackup })
		reply(wire.SNAck{Success: ok})

	case wire.MsgUpdateBackupCmd:
		m, err := wire.DecodeUpdateBackupCmd(frame.Payload)
		if err != nil {
			s.log.Warn("malformed update-backup command: %v", err)
			return
		}
		s.mu.Lock()
		if m.HasTarget {
			s.replTarget = fmt.Sprintf("%s:%d", m.TargetIP, m.TargetPort)
		} else {
			s.replTarget = ""
		}
		s.mu.Unlock()
		reply(wire.SNAck{Success: true})

	default:
		s.log.Warn("unexpected control message type %d", frame.Type)
	}
}

// pushFiles re-sends every file whose metadata passes keep to target,
// used for both the SYNC_FROM_BACKUP and RE_REPLICATE_ALL recovery steps:
// the only difference between them is which files qualify and where they
// are sent.
func (s *Server) pushFiles(target string, keep func(metastore.FileMetadata) bool) bool {
	conn, err := net.Dial("tcp", target)
	if err != nil {
		s.log.Warn("recovery push: failed to dial %s: %v", target, err)
		return false
	}
	defer conn.Close()

	ok := true
	for filename, md := range s.meta.Snapshot() {
		if !keep(md) {
			continue
		}
		content, err := s.fs.Read(md.Owner, filename)
		if err != nil {
			s.log.Warn("recovery push: failed to read %s:%s: %v", md.Owner, filename, err)
			ok = false
			continue
		}
		if err := wire.WriteMessage(conn, wire.ReplicateFileMsg{Owner: md.Owner, Filename: filename, Data: content}); err != nil {
			s.log.Warn("recovery push: failed to send %s:%s: %v", md.Owner, filename, err)
			ok = false
			continue
		}
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			s.log.Warn("recovery push: no ack for %s:%s: %v", md.Owner, filename, err)
			ok = false
			continue
		}
		if ack, err := wire.DecodeSNAck(frame.Payload); err != nil || !ack.Success {
			ok = false
		}
	}
	return ok
}
