package server

import (
	"fmt"
	"net"
	"time"

	"github.com/textfs/textfs/internal/sn/metastore"
	"github.com/textfs/textfs/internal/wire"
)

// ShipUpdate implements replicate.Shipper: it dials the current replication
// target and sends the file's full content, returning an error (logged and
// swallowed by the worker, never surfaced to a client) if delivery fails.
func (s *Server) ShipUpdate(owner, filename string, data []byte) error {
	return s.ship(wire.ReplicateFileMsg{Owner: owner, Filename: filename, Data: data})
}

// ShipDelete implements replicate.Shipper for file removal.
func (s *Server) ShipDelete(owner, filename string) error {
	return s.ship(wire.DeleteFileMsg{Owner: owner, Filename: filename})
}

func (s *Server) ship(msg wire.Message) error {
	s.mu.RLock()
	target := s.replTarget
	s.mu.RUnlock()
	if target == "" {
		return nil
	}

	conn, err := net.Dial("tcp", target)
	if err != nil {
		return fmt.Errorf("sn/server: dial replication target %s: %w", target, err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, msg); err != nil {
		return fmt.Errorf("sn/server: send replication job to %s: %w", target, err)
	}
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("sn/server: read replication ack from %s: %w", target, err)
	}
	ack, err := wire.DecodeSNAck(frame.Payload)
	if err != nil {
		return fmt.Errorf("sn/server: decode replication ack from %s: %w", target, err)
	}
	if !ack.Success {
		return fmt.Errorf("sn/server: replication target %s rejected job", target)
	}
	return nil
}

// handlePeerConn serves the peer listener: another SN delivering one or
// more REPLICATE_FILE / DELETE_FILE jobs, each acknowledged with an SNAck
// before the next is read. A single connection carries every job for a
// bulk recovery push (see pushFiles) as well as the single-job case from
// ShipUpdate/ShipDelete.
func (s *Server) handlePeerConn(conn net.Conn) {
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		var ok bool
		switch frame.Type {
		case wire.MsgReplicateFile:
			m, derr := wire.DecodeReplicateFileMsg(frame.Payload)
			if derr != nil {
				s.log.Warn("malformed replicate-file message: %v", derr)
				return
			}
			ok = s.inbound.HandleUpdate(m.Owner, m.Filename, m.Data) == nil
			if ok {
				s.meta.Touch(m.Filename, func(md *metastore.FileMetadata) {
					md.Owner = m.Owner
					md.Size = int64(len(m.Data))
					md.IsBackup = true
					md.LastModified = time.Now()
				})
			}
		case wire.MsgDeleteFile:
			m, derr := wire.DecodeDeleteFileMsg(frame.Payload)
			if derr != nil {
				s.log.Warn("malformed delete-file message: %v", derr)
				return
			}
			ok = s.inbound.HandleDelete(m.Owner, m.Filename) == nil
			if ok {
				s.meta.Delete(m.Filename)
			}
		default:
			s.log.Warn("unexpected message type %d on peer connection", frame.Type)
			return
		}
		if err := wire.WriteMessage(conn, wire.SNAck{Success: ok}); err != nil {
			return
		}
	}
}
