package server

import (
	"context"
	"net"
	"time"

	"github.com/textfs/textfs/internal/sn/fsops"
	"github.com/textfs/textfs/internal/sn/metastore"
	"github.com/textfs/textfs/internal/sn/replicate"
	"github.com/textfs/textfs/internal/sn/write"
	"github.com/textfs/textfs/internal/textmodel"
	"github.com/textfs/textfs/internal/wire"
	"github.com/textfs/textfs/pkg/dfserrors"
)

// handleClientConn serves one client connection for the lifetime of the
// content operation(s) it carries. Read/stream/undo/checkpoint are single
// request-response (or request/stream) exchanges; write is a short-lived
// sub-protocol (WRITE_START, a run of WRITE_DATA, then WRITE_ETIRW) kept
// entirely on this goroutine's stack as txn, so no lookup table is needed
// to find the transaction belonging to a later message on the same
// connection.
func (s *Server) handleClientConn(conn net.Conn) {
	var txn *write.Transaction
	defer func() {
		if txn != nil {
			txn.Abandon()
		}
	}()

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		switch frame.Type {
		case wire.MsgReadRequest:
			s.handleRead(conn, frame.Payload)

		case wire.MsgStreamRequest:
			s.handleStream(conn, frame.Payload)

		case wire.MsgWriteStartRequest:
			if txn != nil {
				txn.Abandon()
				txn = nil
			}
			txn = s.handleWriteStart(conn, frame.Payload)

		case wire.MsgWriteDataRequest:
			s.handleWriteData(conn, txn, frame.Payload)

		case wire.MsgWriteEtirw:
			s.handleWriteEtirw(conn, txn)
			txn = nil

		case wire.MsgUndoRequest:
			s.handleUndo(conn, frame.Payload)

		case wire.MsgCheckpointRequest:
			s.handleCheckpoint(conn, frame.Payload)

		default:
			s.log.Warn("unexpected message type %d on client connection", frame.Type)
			return
		}
	}
}

func (s *Server) handleRead(conn net.Conn, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeReadRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}

	key := req.Owner + ":" + req.Filename
	fl := s.locks.Get(key)
	fl.RW.RLock()
	defer fl.RW.RUnlock()

	content, err := s.fs.Read(req.Owner, req.Filename)
	if err != nil {
		s.recordOp("read", start, 0, err)
		sendFail(conn, err)
		return
	}
	s.touchLastAccess(req.Filename)

	if err := s.streamChunks(conn, content); err != nil {
		s.recordOp("read", start, int64(len(content)), err)
		return
	}
	s.recordOp("read", start, int64(len(content)), nil)
}

func (s *Server) streamChunks(conn net.Conn, content []byte) error {
	chunks := fsops.ReadChunks(content, s.cfg.ReadChunkSize)
	for i, c := range chunks {
		msg := wire.ReadChunk{Data: c, IsFinal: i == len(chunks)-1}
		if err := wire.WriteMessage(conn, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleStream(conn net.Conn, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeStreamRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}

	key := req.Owner + ":" + req.Filename
	fl := s.locks.Get(key)
	fl.RW.RLock()
	defer fl.RW.RUnlock()

	content, err := s.fs.Read(req.Owner, req.Filename)
	if err != nil {
		s.recordOp("stream", start, 0, err)
		sendFail(conn, err)
		return
	}
	s.touchLastAccess(req.Filename)

	for _, word := range textmodel.SplitWords(string(content)) {
		if err := wire.WriteMessage(conn, wire.StreamWord{Word: word}); err != nil {
			s.recordOp("stream", start, int64(len(content)), err)
			return
		}
		if s.cfg.StreamWordDelay > 0 {
			time.Sleep(s.cfg.StreamWordDelay)
		}
	}
	if err := wire.WriteMessage(conn, wire.StreamEnd{}); err != nil {
		s.recordOp("stream", start, int64(len(content)), err)
		return
	}
	s.recordOp("stream", start, int64(len(content)), nil)
}

func (s *Server) touchLastAccess(filename string) {
	now := time.Now()
	s.meta.Touch(filename, func(md *metastore.FileMetadata) {
		md.LastAccess = now
	})
}

func (s *Server) handleWriteStart(conn net.Conn, payload []byte) *write.Transaction {
	req, err := wire.DecodeWriteStartRequest(payload)
	if err != nil {
		_ = wire.WriteMessage(conn, wire.WriteStartError{Message: err.Error()})
		return nil
	}

	txn, err := write.Start(s.locks, s.fs, s.meta, s.queue, req.Owner, req.Filename, int(req.SentenceIndex))
	if err != nil {
		if dfserrors.Has(err, dfserrors.CodeSentenceLocked) {
			_ = wire.WriteMessage(conn, wire.WriteLocked{})
		} else {
			_ = wire.WriteMessage(conn, wire.WriteStartError{Message: err.Error()})
		}
		return nil
	}

	_ = wire.WriteMessage(conn, wire.WriteOK{})
	return txn
}

func (s *Server) handleWriteData(conn net.Conn, txn *write.Transaction, payload []byte) {
	req, err := wire.DecodeWriteDataRequest(payload)
	if err != nil {
		_ = wire.WriteMessage(conn, wire.WriteDataAck{Success: false, Message: err.Error()})
		return
	}
	if txn == nil {
		_ = wire.WriteMessage(conn, wire.WriteDataAck{Success: false, Message: "no write transaction in progress"})
		return
	}

	insertion := textmodel.SplitWords(req.Content)
	if err := txn.ApplyWordEdit(int(req.WordIndex), insertion); err != nil {
		_ = wire.WriteMessage(conn, wire.WriteDataAck{Success: false, Message: err.Error()})
		return
	}
	_ = wire.WriteMessage(conn, wire.WriteDataAck{Success: true})
}

func (s *Server) handleWriteEtirw(conn net.Conn, txn *write.Transaction) {
	if txn == nil {
		sendFail(conn, dfserrors.New(dfserrors.CodeWriteInProgress, "no write transaction in progress").WithComponent("sn/server"))
		return
	}
	if err := txn.Commit(); err != nil {
		sendFail(conn, err)
		return
	}
	_ = wire.WriteMessage(conn, wire.OK{})
}

func (s *Server) handleUndo(conn net.Conn, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeUndoRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}

	key := req.Owner + ":" + req.Filename
	fl := s.locks.Get(key)
	fl.RW.Lock()
	defer fl.RW.Unlock()

	err = s.fs.Undo(req.Owner, req.Filename)
	s.recordOp("undo", start, 0, err)
	if err != nil {
		sendFail(conn, err)
		return
	}
	if s.queue != nil {
		if content, rerr := s.fs.Read(req.Owner, req.Filename); rerr == nil {
			s.queue.TryEnqueue(replicate.Job{Op: replicate.OpUpdate, Owner: req.Owner, Filename: req.Filename, Data: content})
		}
	}
	_ = wire.WriteMessage(conn, wire.OK{})
}

func (s *Server) handleCheckpoint(conn net.Conn, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeCheckpointRequestMsg(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}

	switch req.Op {
	case wire.CheckpointCreate:
		err := s.fs.CheckpointCreate(req.Owner, req.Filename, req.Tag)
		s.recordOp("checkpoint_create", start, 0, err)
		if err != nil {
			sendFail(conn, err)
			return
		}
		s.archiveCheckpoint(req.Owner, req.Filename, req.Tag)
		_ = wire.WriteMessage(conn, wire.OK{})

	case wire.CheckpointRevert:
		err := s.fs.CheckpointRevert(req.Owner, req.Filename, req.Tag)
		s.recordOp("checkpoint_revert", start, 0, err)
		if err != nil {
			sendFail(conn, err)
			return
		}
		_ = wire.WriteMessage(conn, wire.OK{})

	case wire.CheckpointView:
		content, err := s.fs.CheckpointView(req.Owner, req.Filename, req.Tag)
		s.recordOp("checkpoint_view", start, int64(len(content)), err)
		if err != nil {
			sendFail(conn, err)
			return
		}
		_ = s.streamChunks(conn, content)

	case wire.CheckpointList:
		tags, err := s.fs.CheckpointList(req.Owner, req.Filename)
		s.recordOp("checkpoint_list", start, 0, err)
		if err != nil {
			sendFail(conn, err)
			return
		}
		_ = wire.WriteMessage(conn, wire.CheckpointListResponse{Tags: tags})

	default:
		sendFail(conn, dfserrors.New(dfserrors.CodeMalformedPayload, "unknown checkpoint operation").WithComponent("sn/server"))
	}
}

// archiveCheckpoint ships a just-created checkpoint to the optional S3
// archiver. Failure is logged only: the local checkpoint already succeeded,
// and the client's OK is sent after this returns, whatever the upload's outcome.
func (s *Server) archiveCheckpoint(owner, filename, tag string) {
	if s.archiver == nil {
		return
	}
	content, err := s.fs.CheckpointView(owner, filename, tag)
	if err != nil {
		s.log.Warn("archival: failed to read checkpoint %s:%s:%s for upload: %v", owner, filename, tag, err)
		return
	}
	if err := s.archiver.PutCheckpoint(context.Background(), owner, filename, tag, content); err != nil {
		s.log.Warn("archival: %v", err)
	}
}
