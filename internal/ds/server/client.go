package server

import (
	"bytes"
	"context"
	"net"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/textfs/textfs/internal/ds/access"
	"github.com/textfs/textfs/internal/ds/dscache"
	"github.com/textfs/textfs/internal/ds/filemap"
	"github.com/textfs/textfs/internal/ds/session"
	"github.com/textfs/textfs/internal/wire"
	"github.com/textfs/textfs/pkg/dfserrors"
)

// handleClientConn serves one client connection for its entire session:
// every message except LOGIN requires an activated session first.
func (s *Server) handleClientConn(conn net.Conn) {
	defer conn.Close()
	sess := session.New(conn)
	defer sess.Close()

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		if frame.Type != wire.MsgLoginRequest && !sess.IsActive() {
			sendFail(conn, dfserrors.New(dfserrors.CodeAuthRequired, "login required").WithComponent("ds/server"))
			continue
		}

		switch frame.Type {
		case wire.MsgLoginRequest:
			s.handleLogin(conn, sess, frame.Payload)
		case wire.MsgViewRequest:
			s.handleView(conn, sess, frame.Payload)
		case wire.MsgCreateRequest:
			s.handleCreate(conn, sess, frame.Payload)
		case wire.MsgDeleteRequest:
			s.handleDelete(conn, sess, frame.Payload)
		case wire.MsgInfoRequest:
			s.handleInfo(conn, sess, frame.Payload)
		case wire.MsgListUsersRequest:
			s.handleListUsers(conn)
		case wire.MsgAccessAddRequest:
			s.handleAccessAdd(conn, sess, frame.Payload)
		case wire.MsgAccessRemoveRequest:
			s.handleAccessRemove(conn, sess, frame.Payload)
		case wire.MsgExecRequest:
			s.handleExec(conn, sess, frame.Payload)
		case wire.MsgFolderCommandRequest:
			s.handleFolderCommand(conn, sess, frame.Payload)
		case wire.MsgRequestAccessRequest:
			s.handleRequestAccess(conn, sess, frame.Payload)
		case wire.MsgViewAccessRequestsRequest:
			s.handleViewAccessRequests(conn, sess)
		case wire.MsgGrantAccessRequest:
			s.handleGrantAccess(conn, sess, frame.Payload)
		case wire.MsgRedirectRequest:
			s.handleRedirect(conn, sess, frame.Payload)
		default:
			s.log.Warn("unexpected message type %d on client connection", frame.Type)
			return
		}
	}
}

func hasChar(p access.Permission, c byte) bool {
	return strings.IndexByte(string(p), c) >= 0
}

// resolveOwner implements the redirect flow's owner resolution (spec
// §"Redirect flow", step c): prefer the session user's own file, falling
// back to any owner of a file by that name for the shared-file case.
func (s *Server) resolveOwner(username, filename string) (owner string, entry filemap.Entry, ok bool) {
	if e, found := s.fmap.Get(username, filename); found {
		return username, e, true
	}
	if e, found := s.fmap.SearchByFilename(filename); found {
		return e.Owner, e, true
	}
	return "", filemap.Entry{}, false
}

func (s *Server) handleLogin(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeLoginRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}

	if !s.users.Exists(req.Username) {
		if err := s.users.Register(req.Username, req.Password); err != nil {
			_ = wire.WriteMessage(conn, wire.LoginResponse{Success: false, Message: err.Error()})
			return
		}
	} else if !s.users.Authenticate(req.Username, req.Password) {
		_ = wire.WriteMessage(conn, wire.LoginResponse{Success: false, Message: "invalid credentials"})
		return
	}

	sess.Activate(req.Username)
	_ = wire.WriteMessage(conn, wire.LoginResponse{Success: true})
}

// handleView implements View per spec: iterate the file map, optionally
// filtering to files the caller owns or has access to (-a to include
// everything), optionally fetching live stats per file (-l).
func (s *Server) handleView(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeViewRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	username := sess.Username()

	var entries []filemap.Entry
	s.fmap.ForEach(func(e filemap.Entry) {
		if req.AllUsers {
			entries = append(entries, e)
			return
		}
		if e.Owner == username {
			entries = append(entries, e)
			return
		}
		if _, ok := s.access.Get(username, e.Owner, e.Filename); ok {
			entries = append(entries, e)
		}
	})

	resp := wire.ViewResponse{}
	for _, e := range entries {
		ve := wire.ViewEntry{Owner: e.Owner, Filename: e.Filename}
		if req.LongFormat {
			if info, ferr := s.liveInfo(e); ferr == nil {
				ve.HasStats = true
				ve.Size, ve.Words, ve.Chars = info.Size, info.Words, info.Chars
			}
		}
		resp.Entries = append(resp.Entries, ve)
	}
	_ = wire.WriteMessage(conn, resp)
}

// liveInfo fetches an entry's fresh metadata from its primary SN, falling
// back to the backup if the primary doesn't answer.
func (s *Server) liveInfo(e filemap.Entry) (wire.SNInfoResponse, error) {
	if primaryConn, ok := s.connFor(e.PrimarySN); ok {
		if info, err := s.fetchInfo(primaryConn, e.Owner, e.Filename); err == nil {
			return info, nil
		}
	}
	if e.BackupSN != "" {
		if backupConn, ok := s.connFor(e.BackupSN); ok {
			return s.fetchInfo(backupConn, e.Owner, e.Filename)
		}
	}
	return wire.SNInfoResponse{}, dfserrors.New(dfserrors.CodeSNNotFound, "no reachable storage node").WithComponent("ds/server")
}

// handleCreate implements the Create flow: reject if the entry already
// exists, pick a load-balanced primary/backup pair, tell the primary to
// create the (initially empty) file, grant the creator owner rights, and
// record the file map entry. The backup is never told explicitly; it
// picks up the empty file through the normal replication channel.
func (s *Server) handleCreate(conn net.Conn, sess *session.Session, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeCreateRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	owner := sess.Username()

	if _, ok := s.fmap.Get(owner, req.Filename); ok {
		ferr := dfserrors.New(dfserrors.CodeFileExists, "file already exists").WithComponent("ds/server")
		s.recordOp("create", start, ferr)
		sendFail(conn, ferr)
		return
	}

	primaryID, backupID, err := s.ring.AssignPrimaryBackup()
	if err != nil {
		ferr := dfserrors.New(dfserrors.CodeSNNotFound, "not enough storage nodes online").WithComponent("ds/server").WithCause(err)
		s.recordOp("create", start, ferr)
		sendFail(conn, ferr)
		return
	}

	primaryConn, ok := s.connFor(primaryID)
	if !ok {
		s.ring.ReleasePrimary(primaryID)
		ferr := dfserrors.New(dfserrors.CodeSNNotFound, "primary storage node not connected").WithComponent("ds/server")
		s.recordOp("create", start, ferr)
		sendFail(conn, ferr)
		return
	}

	if _, err := s.sendCommand(primaryConn, wire.SNCreateCmd{Owner: owner, Filename: req.Filename}); err != nil {
		s.ring.ReleasePrimary(primaryID)
		s.recordOp("create", start, err)
		sendFail(conn, err)
		return
	}

	if err := s.access.Grant(owner, owner, req.Filename, access.Permission("rwo")); err != nil {
		s.log.Warn("failed to persist owner grant for %s:%s: %v", owner, req.Filename, err)
	}
	s.fmap.Upsert(filemap.Entry{Owner: owner, Filename: req.Filename, PrimarySN: primaryID, BackupSN: backupID})
	addFolderEntry(sess, req.Filename)

	s.recordOp("create", start, nil)
	_ = wire.WriteMessage(conn, wire.OK{})
}

// handleDelete implements the Delete flow: requires owner permission,
// deletes from the primary (fatal on failure) and best-effort from the
// backup, then tears down the file map/access/cache/folder-tree state.
func (s *Server) handleDelete(conn net.Conn, sess *session.Session, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeDeleteRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	owner := sess.Username()

	perm, _ := s.access.Get(owner, owner, req.Filename)
	if !hasChar(perm, 'o') {
		ferr := dfserrors.New(dfserrors.CodeNotOwner, "owner permission required").WithComponent("ds/server")
		s.recordOp("delete", start, ferr)
		sendFail(conn, ferr)
		return
	}

	entry, ok := s.fmap.Get(owner, req.Filename)
	if !ok {
		ferr := dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server")
		s.recordOp("delete", start, ferr)
		sendFail(conn, ferr)
		return
	}

	if primaryConn, ok := s.connFor(entry.PrimarySN); ok {
		if _, err := s.sendCommand(primaryConn, wire.SNDeleteCmd{Owner: owner, Filename: req.Filename}); err != nil {
			s.recordOp("delete", start, err)
			sendFail(conn, err)
			return
		}
	}
	if entry.BackupSN != "" {
		if backupConn, ok := s.connFor(entry.BackupSN); ok {
			if _, err := s.sendCommand(backupConn, wire.SNDeleteCmd{Owner: owner, Filename: req.Filename}); err != nil {
				s.log.Warn("backup delete failed for %s:%s: %v", owner, req.Filename, err)
			}
		}
	}

	s.ring.ReleasePrimary(entry.PrimarySN)
	s.fmap.Delete(owner, req.Filename)
	s.cache.Invalidate(owner, req.Filename)
	if err := s.access.RevokeForAll(owner, req.Filename); err != nil {
		s.log.Warn("failed to revoke access for %s:%s: %v", owner, req.Filename, err)
	}
	removeFolderEntry(sess, req.Filename)

	s.recordOp("delete", start, nil)
	_ = wire.WriteMessage(conn, wire.OK{})
}

// handleInfo requires write permission (or ownership) and always performs
// a live round-trip to the primary SN: size/word/char counts mutate on the
// SN without DS coordination, so a cached answer would go stale silently.
func (s *Server) handleInfo(conn net.Conn, sess *session.Session, payload []byte) {
	start := time.Now()
	req, err := wire.DecodeInfoRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	username := sess.Username()

	owner, entry, ok := s.resolveOwner(username, req.Filename)
	if !ok {
		ferr := dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server")
		s.recordOp("info", start, ferr)
		sendFail(conn, ferr)
		return
	}
	perm, _ := s.access.Get(username, owner, req.Filename)
	if !hasChar(perm, 'o') && !hasChar(perm, 'w') {
		ferr := dfserrors.New(dfserrors.CodeNoPermission, "write permission required").WithComponent("ds/server")
		s.recordOp("info", start, ferr)
		sendFail(conn, ferr)
		return
	}

	primaryConn, ok := s.connFor(entry.PrimarySN)
	if !ok {
		ferr := dfserrors.New(dfserrors.CodeSNNotFound, "primary storage node offline").WithComponent("ds/server")
		s.recordOp("info", start, ferr)
		sendFail(conn, ferr)
		return
	}
	info, err := s.fetchInfo(primaryConn, owner, req.Filename)
	if err != nil {
		s.recordOp("info", start, err)
		sendFail(conn, err)
		return
	}

	s.recordOp("info", start, nil)
	_ = wire.WriteMessage(conn, wire.InfoResponse{
		Size: info.Size, Words: info.Words, Chars: info.Chars,
		LastAccessSec: info.LastAccessSec, LastModSec: info.LastModSec, Owner: owner,
	})
}

func (s *Server) handleListUsers(conn net.Conn) {
	_ = wire.WriteMessage(conn, wire.ListUsersResponse{Usernames: s.users.List()})
}

// handleAccessAdd implements ADDACCESS: only the file's owner may grant.
func (s *Server) handleAccessAdd(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeAccessAddRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	owner := sess.Username()
	if _, ok := s.fmap.Get(owner, req.Filename); !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server"))
		return
	}

	perm := access.ReadOnly
	if req.ReadWrite {
		perm = access.ReadWrite
	}
	if err := s.access.Grant(req.Target, owner, req.Filename, perm); err != nil {
		sendFail(conn, dfserrors.New(dfserrors.CodePersistFailed, "failed to persist grant").WithComponent("ds/server").WithCause(err))
		return
	}
	s.reqs.ResolveOne(owner, req.Filename, req.Target)
	_ = wire.WriteMessage(conn, wire.OK{})
}

func (s *Server) handleAccessRemove(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeAccessRemoveRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	owner := sess.Username()
	if _, ok := s.fmap.Get(owner, req.Filename); !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server"))
		return
	}
	if err := s.access.Revoke(req.Target, owner, req.Filename); err != nil {
		sendFail(conn, dfserrors.New(dfserrors.CodePersistFailed, "failed to persist revoke").WithComponent("ds/server").WithCause(err))
		return
	}
	_ = wire.WriteMessage(conn, wire.OK{})
}

// handleExec is an explicit, off-by-default security concession: it fetches
// the named file's content from its primary SN, runs it through an
// external interpreter with a scrubbed environment and a hard timeout, and
// returns combined stdout+stderr. Never invoked through a shell string.
func (s *Server) handleExec(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeExecRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	if !s.secCfg.ExecEnabled {
		sendFail(conn, dfserrors.New(dfserrors.CodeNoPermission, "exec is disabled on this directory service").WithComponent("ds/server"))
		return
	}

	username := sess.Username()
	owner, entry, ok := s.resolveOwner(username, req.Filename)
	if !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server"))
		return
	}
	perm, _ := s.access.Get(username, owner, req.Filename)
	if !hasChar(perm, 'o') && !hasChar(perm, 'r') {
		sendFail(conn, dfserrors.New(dfserrors.CodeNoPermission, "read permission required").WithComponent("ds/server"))
		return
	}

	primaryConn, ok := s.connFor(entry.PrimarySN)
	if !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeSNNotFound, "primary storage node offline").WithComponent("ds/server"))
		return
	}
	content, err := s.fetchContent(primaryConn, owner, req.Filename)
	if err != nil {
		sendFail(conn, err)
		return
	}

	output, err := s.runScript(content)
	if err != nil {
		sendFail(conn, dfserrors.New(dfserrors.CodeInternal, "script execution failed").WithComponent("ds/server").WithCause(err))
		return
	}
	_ = wire.WriteMessage(conn, wire.ExecResponse{Output: output})
}

func (s *Server) runScript(content []byte) (string, error) {
	timeout := s.secCfg.ExecTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh")
	cmd.Env = []string{"PATH=/usr/bin:/bin"}
	cmd.Stdin = bytes.NewReader(content)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (s *Server) handleFolderCommand(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeFolderCommandRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}

	switch req.Op {
	case wire.FolderOpCreate:
		sess.ChangeDir(req.Path)
		sess.ChangeDir("..")
		_ = wire.WriteMessage(conn, wire.FolderCommandResponse{})

	case wire.FolderOpView:
		cwd := sess.Cwd()
		var names []string
		for name := range cwd.Children {
			names = append(names, name)
		}
		sort.Strings(names)
		_ = wire.WriteMessage(conn, wire.FolderCommandResponse{Entries: names})

	case wire.FolderOpOpen:
		cwd := sess.Cwd()
		if _, ok := cwd.Children[req.Path]; !ok {
			sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "folder not found").WithComponent("ds/server"))
			return
		}
		sess.ChangeDir(req.Path)
		_ = wire.WriteMessage(conn, wire.FolderCommandResponse{})

	case wire.FolderOpOpenCreate:
		sess.ChangeDir(req.Path)
		_ = wire.WriteMessage(conn, wire.FolderCommandResponse{})

	case wire.FolderOpOpenParent:
		sess.ChangeDir("..")
		_ = wire.WriteMessage(conn, wire.FolderCommandResponse{})

	case wire.FolderOpMove:
		if !moveIntoChildFolder(sess, req.Path, req.Dest) {
			sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "source or destination not found").WithComponent("ds/server"))
			return
		}
		_ = wire.WriteMessage(conn, wire.OK{})

	case wire.FolderOpUpMove:
		if !moveToParentFolder(sess, req.Path) {
			sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "source not found or already at root").WithComponent("ds/server"))
			return
		}
		_ = wire.WriteMessage(conn, wire.OK{})

	default:
		sendFail(conn, dfserrors.New(dfserrors.CodeMalformedPayload, "unknown folder operation").WithComponent("ds/server"))
	}
}

func (s *Server) handleRequestAccess(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeRequestAccessRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	_, entry, ok := s.resolveOwner(sess.Username(), req.Filename)
	if !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server"))
		return
	}
	s.reqs.Add(sess.Username(), entry.Owner, req.Filename)
	_ = wire.WriteMessage(conn, wire.OK{})
}

func (s *Server) handleViewAccessRequests(conn net.Conn, sess *session.Session) {
	pending := s.reqs.ForOwner(sess.Username())
	resp := wire.ViewAccessRequestsResponse{}
	for _, p := range pending {
		resp.Requests = append(resp.Requests, wire.AccessRequestEntry{Requester: p.Requester, Filename: p.Filename})
	}
	_ = wire.WriteMessage(conn, resp)
}

// handleGrantAccess implements GRANTACCESS: it behaves like ADDACCESS, and
// like it sets the permission and resolves the matching pending request, if any.
func (s *Server) handleGrantAccess(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeGrantAccessRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	owner := sess.Username()
	if _, ok := s.fmap.Get(owner, req.Filename); !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server"))
		return
	}

	perm := access.ReadOnly
	if req.ReadWrite {
		perm = access.ReadWrite
	}
	if err := s.access.Grant(req.Target, owner, req.Filename, perm); err != nil {
		sendFail(conn, dfserrors.New(dfserrors.CodePersistFailed, "failed to persist grant").WithComponent("ds/server").WithCause(err))
		return
	}
	s.reqs.ResolveOne(owner, req.Filename, req.Target)
	_ = wire.WriteMessage(conn, wire.OK{})
}

// handleRedirect implements the redirect flow: resolve access and the
// owning user, pick a routing SN (primary-then-backup for checkpoints,
// cache-then-file-map for everything else), and hand the client that SN's
// client-facing endpoint.
func (s *Server) handleRedirect(conn net.Conn, sess *session.Session, payload []byte) {
	req, err := wire.DecodeRedirectRequest(payload)
	if err != nil {
		sendFail(conn, err)
		return
	}
	username := sess.Username()

	owner, entry, ok := s.resolveOwner(username, req.Filename)
	if !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeFileNotFound, "file not found").WithComponent("ds/server"))
		return
	}

	perm, _ := s.access.Get(username, owner, req.Filename)
	isOwner := hasChar(perm, 'o')
	switch req.Kind {
	case wire.RedirectRead, wire.RedirectStream, wire.RedirectCheckpoint:
		if !isOwner && !hasChar(perm, 'r') {
			sendFail(conn, dfserrors.New(dfserrors.CodeNoPermission, "read permission required").WithComponent("ds/server"))
			return
		}
	case wire.RedirectWrite, wire.RedirectUndo:
		if !isOwner && !hasChar(perm, 'w') {
			sendFail(conn, dfserrors.New(dfserrors.CodeNoPermission, "write permission required").WithComponent("ds/server"))
			return
		}
	}

	var targetID string
	if req.Kind == wire.RedirectCheckpoint {
		if sc, ok := s.connFor(entry.PrimarySN); ok {
			_ = sc
			targetID = entry.PrimarySN
		} else if entry.BackupSN != "" {
			targetID = entry.BackupSN
		}
	} else if loc, ok := s.cache.Get(owner, req.Filename); ok {
		if _, online := s.connFor(loc.PrimarySN); online {
			targetID = loc.PrimarySN
		} else if loc.BackupSN != "" {
			targetID = loc.BackupSN
		}
	} else {
		targetID = entry.PrimarySN
		if _, online := s.connFor(targetID); !online && entry.BackupSN != "" {
			targetID = entry.BackupSN
		}
		s.cache.Put(owner, req.Filename, dscache.Location{PrimarySN: entry.PrimarySN, BackupSN: entry.BackupSN})
	}

	sc, ok := s.connFor(targetID)
	if !ok {
		sendFail(conn, dfserrors.New(dfserrors.CodeSNNotFound, "no reachable storage node for this file").WithComponent("ds/server"))
		return
	}
	_ = wire.WriteMessage(conn, wire.RedirectResponse{Owner: owner, ClientEndpoint: sc.clientAddr})
}

// addFolderEntry appends filename as a leaf under the session's current
// folder, for display only.
func addFolderEntry(sess *session.Session, filename string) {
	sess.ChangeDir(filename)
	sess.ChangeDir("..")
}

// removeFolderEntry removes filename from the session's current folder, if
// present there.
func removeFolderEntry(sess *session.Session, filename string) {
	delete(sess.Cwd().Children, filename)
}

// moveIntoChildFolder relocates the node named name from the session's
// current folder into (or creating) a child folder called dest.
func moveIntoChildFolder(sess *session.Session, name, dest string) bool {
	cwd := sess.Cwd()
	child, ok := cwd.Children[name]
	if !ok {
		return false
	}
	sess.ChangeDir(dest)
	destFolder := sess.Cwd()
	sess.ChangeDir("..")

	delete(cwd.Children, name)
	child.Parent = destFolder
	destFolder.Children[name] = child
	return true
}

// moveToParentFolder relocates the node named name from the session's
// current folder up into its parent.
func moveToParentFolder(sess *session.Session, name string) bool {
	cwd := sess.Cwd()
	if cwd.Parent == nil {
		return false
	}
	child, ok := cwd.Children[name]
	if !ok {
		return false
	}
	delete(cwd.Children, name)
	child.Parent = cwd.Parent
	cwd.Parent.Children[name] = child
	return true
}
