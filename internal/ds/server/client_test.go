package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textfs/textfs/internal/config"
	"github.com/textfs/textfs/internal/wire"
	"github.com/textfs/textfs/pkg/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.New(obslog.Error, io.Discard)
}

// newTestServer builds a Server with no persistence and circuit breaking
// disabled, suitable for driving handleClientConn/handleSNConn directly
// over net.Pipe connections.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(
		config.DirectoryServiceConfig{
			HeartbeatTimeout: 15 * time.Second,
			MonitorInterval:  time.Hour,
		},
		config.CacheConfig{Capacity: 64},
		config.CircuitBreakerConfig{Enabled: false},
		config.SecurityConfig{ExecEnabled: true, ExecTimeout: 2 * time.Second},
		testLogger(), nil, nil,
	)
	require.NoError(t, err)
	return s
}

func pipeClient(s *Server) (client net.Conn, done chan struct{}) {
	server, client := net.Pipe()
	done = make(chan struct{})
	go func() {
		s.handleClientConn(server)
		close(done)
	}()
	return client, done
}

// registerFakeSNNode registers a single storage node against s and keeps
// answering its control commands with success replies until the connection
// closes, mimicking an internal/sn/server peer closely enough to exercise
// Create/Delete/Info/Exec without a real storage node.
func registerFakeSNNode(t *testing.T, s *Server, clientPort, backupPort int32) {
	t.Helper()
	fake, real := net.Pipe()

	s.wg.Add(1)
	go s.handleSNConn(real)

	require.NoError(t, wire.WriteMessage(fake, wire.RegisterRequest{
		IP: "127.0.0.1", ClientPort: clientPort, BackupPort: backupPort,
	}))
	frame, err := wire.ReadFrame(fake)
	require.NoError(t, err)
	require.Equal(t, wire.MsgRegisterAck, frame.Type)

	go func() {
		for {
			frame, err := wire.ReadFrame(fake)
			if err != nil {
				return
			}
			switch frame.Type {
			case wire.MsgSNInfoRequest:
				_ = wire.WriteMessage(fake, wire.SNInfoResponse{Size: 11, Words: 2, Chars: 11})
			case wire.MsgSNExecFetchRequest:
				_ = wire.WriteMessage(fake, wire.SNExecFetchResponse{Content: []byte("echo hi\n")})
			default:
				_ = wire.WriteMessage(fake, wire.SNAck{Success: true})
			}
		}
	}()

	t.Cleanup(func() { fake.Close() })
}

// registerFakeSN registers a pair of storage nodes starting at basePort
// (basePort/basePort+1 for the first node's client/backup ports,
// basePort+2/basePort+3 for the second): AssignPrimaryBackup refuses to
// hand out an assignment with fewer than two online nodes, so every test
// that exercises Create needs at least this much ring membership.
func registerFakeSN(t *testing.T, s *Server, basePort int32) {
	t.Helper()
	registerFakeSNNode(t, s, basePort, basePort+1)
	registerFakeSNNode(t, s, basePort+2, basePort+3)
}

func login(t *testing.T, client net.Conn, username, password string) {
	t.Helper()
	require.NoError(t, wire.WriteMessage(client, wire.LoginRequest{Username: username, Password: password}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgLoginResponse, frame.Type)
	resp, err := wire.DecodeLoginResponse(frame.Payload)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Message)
}

func TestLoginRegistersNewUserThenAuthenticatesExisting(t *testing.T) {
	s := newTestServer(t)

	client, done := pipeClient(s)
	login(t, client, "alice", "hunter2")
	client.Close()
	<-done

	client2, done2 := pipeClient(s)
	login(t, client2, "alice", "hunter2")
	client2.Close()
	<-done2
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)
	client, done := pipeClient(s)
	login(t, client, "alice", "hunter2")
	client.Close()
	<-done

	client2, done2 := pipeClient(s)
	require.NoError(t, wire.WriteMessage(client2, wire.LoginRequest{Username: "alice", Password: "wrong"}))
	frame, err := wire.ReadFrame(client2)
	require.NoError(t, err)
	resp, err := wire.DecodeLoginResponse(frame.Payload)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	client2.Close()
	<-done2
}

func TestRequestBeforeLoginFails(t *testing.T) {
	s := newTestServer(t)
	client, done := pipeClient(s)
	defer client.Close()

	require.NoError(t, wire.WriteMessage(client, wire.ViewRequest{}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgFail, frame.Type)

	client.Close()
	<-done
}

func TestCreateThenViewThenInfo(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9000)

	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.CreateRequest{Filename: "notes.txt"}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.ViewRequest{}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgViewResponse, frame.Type)
	view, err := wire.DecodeViewResponse(frame.Payload)
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "notes.txt", view.Entries[0].Filename)

	require.NoError(t, wire.WriteMessage(client, wire.InfoRequest{Filename: "notes.txt"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgInfoResponse, frame.Type)
	info, err := wire.DecodeInfoResponse(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)

	client.Close()
	<-done
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9010)

	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.CreateRequest{Filename: "a.txt"}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.CreateRequest{Filename: "a.txt"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgFail, frame.Type)

	client.Close()
	<-done
}

func TestDeleteRequiresOwnerRemovesFile(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9020)

	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.CreateRequest{Filename: "a.txt"}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.DeleteRequest{Filename: "a.txt"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.InfoRequest{Filename: "a.txt"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgFail, frame.Type)

	client.Close()
	<-done
}

func TestDeleteByNonOwnerFails(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9030)

	owner, ownerDone := pipeClient(s)
	login(t, owner, "alice", "hunter2")
	require.NoError(t, wire.WriteMessage(owner, wire.CreateRequest{Filename: "a.txt"}))
	frame, err := wire.ReadFrame(owner)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)
	owner.Close()
	<-ownerDone

	other, otherDone := pipeClient(s)
	defer other.Close()
	login(t, other, "bob", "swordfish")
	require.NoError(t, wire.WriteMessage(other, wire.DeleteRequest{Filename: "a.txt"}))
	frame, err = wire.ReadFrame(other)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgFail, frame.Type)
	other.Close()
	<-otherDone
}

func TestAccessGrantAllowsSharedRedirect(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9040)

	owner, ownerDone := pipeClient(s)
	login(t, owner, "alice", "hunter2")
	require.NoError(t, wire.WriteMessage(owner, wire.CreateRequest{Filename: "shared.txt"}))
	frame, err := wire.ReadFrame(owner)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(owner, wire.AccessAddRequest{Filename: "shared.txt", Target: "bob", ReadWrite: false}))
	frame, err = wire.ReadFrame(owner)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)
	owner.Close()
	<-ownerDone

	other, otherDone := pipeClient(s)
	defer other.Close()
	login(t, other, "bob", "swordfish")

	require.NoError(t, wire.WriteMessage(other, wire.RedirectRequest{Kind: wire.RedirectRead, Filename: "shared.txt"}))
	frame, err = wire.ReadFrame(other)
	require.NoError(t, err)
	require.Equal(t, wire.MsgRedirectResponse, frame.Type)
	resp, err := wire.DecodeRedirectResponse(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Owner)
	assert.Equal(t, "127.0.0.1:9040", resp.ClientEndpoint)

	other.Close()
	<-otherDone
}

func TestRedirectWithoutAccessFails(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9050)

	owner, ownerDone := pipeClient(s)
	login(t, owner, "alice", "hunter2")
	require.NoError(t, wire.WriteMessage(owner, wire.CreateRequest{Filename: "private.txt"}))
	frame, err := wire.ReadFrame(owner)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)
	owner.Close()
	<-ownerDone

	other, otherDone := pipeClient(s)
	defer other.Close()
	login(t, other, "bob", "swordfish")
	require.NoError(t, wire.WriteMessage(other, wire.RedirectRequest{Kind: wire.RedirectRead, Filename: "private.txt"}))
	frame, err = wire.ReadFrame(other)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgFail, frame.Type)
	other.Close()
	<-otherDone
}

func TestFolderCreateViewOpenAndParent(t *testing.T) {
	s := newTestServer(t)
	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.FolderCommandRequest{Op: wire.FolderOpCreate, Path: "docs"}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFolderCommandResponse, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.FolderCommandRequest{Op: wire.FolderOpView}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	resp, err := wire.DecodeFolderCommandResponse(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, resp.Entries)

	require.NoError(t, wire.WriteMessage(client, wire.FolderCommandRequest{Op: wire.FolderOpOpen, Path: "docs"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFolderCommandResponse, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.FolderCommandRequest{Op: wire.FolderOpOpenParent}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFolderCommandResponse, frame.Type)

	client.Close()
	<-done
}

func TestExecRunsScriptContent(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9060)

	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.CreateRequest{Filename: "script.txt"}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.ExecRequest{Filename: "script.txt"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgExecResponse, frame.Type)
	resp, err := wire.DecodeExecResponse(frame.Payload)
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "hi")

	client.Close()
	<-done
}

func TestExecDisabledRejected(t *testing.T) {
	s := newTestServer(t)
	s.secCfg.ExecEnabled = false
	registerFakeSN(t, s, 9070)

	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.CreateRequest{Filename: "script.txt"}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(client, wire.ExecRequest{Filename: "script.txt"}))
	frame, err = wire.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgFail, frame.Type)

	client.Close()
	<-done
}

func TestAccessRequestThenGrantResolvesPending(t *testing.T) {
	s := newTestServer(t)
	registerFakeSN(t, s, 9080)

	owner, ownerDone := pipeClient(s)
	login(t, owner, "alice", "hunter2")
	require.NoError(t, wire.WriteMessage(owner, wire.CreateRequest{Filename: "report.txt"}))
	frame, err := wire.ReadFrame(owner)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	other, otherDone := pipeClient(s)
	login(t, other, "bob", "swordfish")
	require.NoError(t, wire.WriteMessage(other, wire.RequestAccessRequest{Filename: "report.txt"}))
	frame, err = wire.ReadFrame(other)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)
	other.Close()
	<-otherDone

	require.NoError(t, wire.WriteMessage(owner, wire.ViewAccessRequestsRequest{}))
	frame, err = wire.ReadFrame(owner)
	require.NoError(t, err)
	viewResp, err := wire.DecodeViewAccessRequestsResponse(frame.Payload)
	require.NoError(t, err)
	require.Len(t, viewResp.Requests, 1)
	assert.Equal(t, "bob", viewResp.Requests[0].Requester)

	require.NoError(t, wire.WriteMessage(owner, wire.GrantAccessRequest{Filename: "report.txt", Target: "bob", ReadWrite: true}))
	frame, err = wire.ReadFrame(owner)
	require.NoError(t, err)
	require.Equal(t, wire.MsgOK, frame.Type)

	require.NoError(t, wire.WriteMessage(owner, wire.ViewAccessRequestsRequest{}))
	frame, err = wire.ReadFrame(owner)
	require.NoError(t, err)
	viewResp, err = wire.DecodeViewAccessRequestsResponse(frame.Payload)
	require.NoError(t, err)
	assert.Empty(t, viewResp.Requests)

	owner.Close()
	<-ownerDone
}

func TestListUsers(t *testing.T) {
	s := newTestServer(t)
	client, done := pipeClient(s)
	defer client.Close()
	login(t, client, "alice", "hunter2")

	require.NoError(t, wire.WriteMessage(client, wire.ListUsersRequest{}))
	frame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	resp, err := wire.DecodeListUsersResponse(frame.Payload)
	require.NoError(t, err)
	assert.Contains(t, resp.Usernames, "alice")

	client.Close()
	<-done
}
