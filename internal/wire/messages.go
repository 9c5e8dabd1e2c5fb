package wire

import "fmt"

// MessageType identifies a frame's payload layout.
type MessageType uint32

const (
	_ MessageType = iota // 0 reserved; a zeroed header is never a valid message

	// Client <-> Directory Service
	MsgLoginRequest
	MsgLoginResponse
	MsgViewRequest
	MsgViewResponse
	MsgCreateRequest
	MsgDeleteRequest
	MsgInfoRequest
	MsgInfoResponse
	MsgListUsersRequest
	MsgListUsersResponse
	MsgAccessAddRequest
	MsgAccessRemoveRequest
	MsgExecRequest
	MsgExecResponse
	MsgFolderCommandRequest
	MsgFolderCommandResponse
	MsgRequestAccessRequest
	MsgViewAccessRequestsRequest
	MsgViewAccessRequestsResponse
	MsgGrantAccessRequest
	MsgRedirectRequest
	MsgRedirectResponse
	MsgOK
	MsgFail

	// Directory Service <-> Storage Node
	MsgRegisterRequest
	MsgRegisterAck
	MsgHeartbeat
	MsgSNInfoRequest
	MsgSNInfoResponse
	MsgSNExecFetchRequest
	MsgSNExecFetchResponse
	MsgSNCreateCmd
	MsgSNDeleteCmd
	MsgSyncFromBackupCmd
	MsgSyncToPrimaryCmd
	MsgReReplicateAllCmd
	MsgUpdateBackupCmd

	// Client <-> Storage Node
	MsgReadRequest
	MsgReadChunk
	MsgStreamRequest
	MsgStreamWord
	MsgStreamEnd
	MsgWriteStartRequest
	MsgWriteOK
	MsgWriteLocked
	MsgWriteStartError
	MsgWriteDataRequest
	MsgWriteDataAck
	MsgWriteEtirw
	MsgUndoRequest
	MsgCheckpointRequest
	MsgCheckpointListResponse

	// Storage Node <-> Storage Node
	MsgReplicateFile
	MsgDeleteFile
	MsgSNAck
)

// Message is implemented by every payload type so WriteMessage can encode
// generically.
type Message interface {
	Type() MessageType
	Encode(e *encoder)
}

// ---- generic responses ---------------------------------------------------

// OK is the generic success response carrying no data.
type OK struct{}

func (OK) Type() MessageType    { return MsgOK }
func (OK) Encode(e *encoder)    {}
func DecodeOK(p []byte) (OK, error) { return OK{}, nil }

// Fail is the generic error response, carrying a stable error code string
// (one of the dfserrors.Code values) plus a human-readable message.
type Fail struct {
	Code    string
	Message string
}

func (Fail) Type() MessageType { return MsgFail }
func (f Fail) Encode(e *encoder) {
	e.str(f.Code)
	e.str(f.Message)
}
func DecodeFail(p []byte) (Fail, error) {
	d := newDecoder(p)
	f := Fail{Code: d.str(), Message: d.str()}
	return f, d.finish()
}

// ---- Client <-> Directory Service ----------------------------------------

type LoginRequest struct {
	Username string
	Password string
}

func (LoginRequest) Type() MessageType { return MsgLoginRequest }
func (m LoginRequest) Encode(e *encoder) {
	e.str(m.Username)
	e.str(m.Password)
}
func DecodeLoginRequest(p []byte) (LoginRequest, error) {
	d := newDecoder(p)
	m := LoginRequest{Username: d.str(), Password: d.str()}
	return m, d.finish()
}

type LoginResponse struct {
	Success bool
	Message string
}

func (LoginResponse) Type() MessageType { return MsgLoginResponse }
func (m LoginResponse) Encode(e *encoder) {
	e.boolean(m.Success)
	e.str(m.Message)
}
func DecodeLoginResponse(p []byte) (LoginResponse, error) {
	d := newDecoder(p)
	m := LoginResponse{Success: d.boolean(), Message: d.str()}
	return m, d.finish()
}

// ViewRequest requests the file-map listing. AllUsers corresponds to -a,
// LongFormat to -l.
type ViewRequest struct {
	AllUsers   bool
	LongFormat bool
}

func (ViewRequest) Type() MessageType { return MsgViewRequest }
func (m ViewRequest) Encode(e *encoder) {
	e.boolean(m.AllUsers)
	e.boolean(m.LongFormat)
}
func DecodeViewRequest(p []byte) (ViewRequest, error) {
	d := newDecoder(p)
	m := ViewRequest{AllUsers: d.boolean(), LongFormat: d.boolean()}
	return m, d.finish()
}

// ViewEntry is one row of a VIEW listing.
type ViewEntry struct {
	Owner    string
	Filename string
	HasStats bool // false when -l was requested but the live fetch failed (N/A)
	Size     int64
	Words    int64
	Chars    int64
}

type ViewResponse struct {
	Entries []ViewEntry
}

func (ViewResponse) Type() MessageType { return MsgViewResponse }
func (m ViewResponse) Encode(e *encoder) {
	e.u32(uint32(len(m.Entries)))
	for _, ent := range m.Entries {
		e.str(ent.Owner)
		e.str(ent.Filename)
		e.boolean(ent.HasStats)
		e.i64(ent.Size)
		e.i64(ent.Words)
		e.i64(ent.Chars)
	}
}
func DecodeViewResponse(p []byte) (ViewResponse, error) {
	d := newDecoder(p)
	n := d.u32()
	m := ViewResponse{}
	for i := uint32(0); i < n && d.err == nil; i++ {
		m.Entries = append(m.Entries, ViewEntry{
			Owner:    d.str(),
			Filename: d.str(),
			HasStats: d.boolean(),
			Size:     d.i64(),
			Words:    d.i64(),
			Chars:    d.i64(),
		})
	}
	return m, d.finish()
}

type CreateRequest struct{ Filename string }

func (CreateRequest) Type() MessageType   { return MsgCreateRequest }
func (m CreateRequest) Encode(e *encoder) { e.str(m.Filename) }
func DecodeCreateRequest(p []byte) (CreateRequest, error) {
	d := newDecoder(p)
	m := CreateRequest{Filename: d.str()}
	return m, d.finish()
}

type DeleteRequest struct{ Filename string }

func (DeleteRequest) Type() MessageType   { return MsgDeleteRequest }
func (m DeleteRequest) Encode(e *encoder) { e.str(m.Filename) }
func DecodeDeleteRequest(p []byte) (DeleteRequest, error) {
	d := newDecoder(p)
	m := DeleteRequest{Filename: d.str()}
	return m, d.finish()
}

type InfoRequest struct{ Filename string }

func (InfoRequest) Type() MessageType   { return MsgInfoRequest }
func (m InfoRequest) Encode(e *encoder) { e.str(m.Filename) }
func DecodeInfoRequest(p []byte) (InfoRequest, error) {
	d := newDecoder(p)
	m := InfoRequest{Filename: d.str()}
	return m, d.finish()
}

type InfoResponse struct {
	Size          int64
	Words         int64
	Chars         int64
	LastAccessSec int64
	LastModSec    int64
	Owner         string
}

func (InfoResponse) Type() MessageType { return MsgInfoResponse }
func (m InfoResponse) Encode(e *encoder) {
	e.i64(m.Size)
	e.i64(m.Words)
	e.i64(m.Chars)
	e.i64(m.LastAccessSec)
	e.i64(m.LastModSec)
	e.str(m.Owner)
}
func DecodeInfoResponse(p []byte) (InfoResponse, error) {
	d := newDecoder(p)
	m := InfoResponse{
		Size: d.i64(), Words: d.i64(), Chars: d.i64(),
		LastAccessSec: d.i64(), LastModSec: d.i64(), Owner: d.str(),
	}
	return m, d.finish()
}

type ListUsersRequest struct{}

func (ListUsersRequest) Type() MessageType { return MsgListUsersRequest }
func (ListUsersRequest) Encode(e *encoder) {}
func DecodeListUsersRequest([]byte) (ListUsersRequest, error) { return ListUsersRequest{}, nil }

type ListUsersResponse struct{ Usernames []string }

func (ListUsersResponse) Type() MessageType { return MsgListUsersResponse }
func (m ListUsersResponse) Encode(e *encoder) {
	e.u32(uint32(len(m.Usernames)))
	for _, u := range m.Usernames {
		e.str(u)
	}
}
func DecodeListUsersResponse(p []byte) (ListUsersResponse, error) {
	d := newDecoder(p)
	n := d.u32()
	m := ListUsersResponse{}
	for i := uint32(0); i < n && d.err == nil; i++ {
		m.Usernames = append(m.Usernames, d.str())
	}
	return m, d.finish()
}

// AccessAddRequest carries ADDACCESS (GRANTACCESS uses GrantAccessRequest):
// ReadWrite selects "rw" vs "r".
type AccessAddRequest struct {
	Filename  string
	Target    string
	ReadWrite bool
}

func (AccessAddRequest) Type() MessageType { return MsgAccessAddRequest }
func (m AccessAddRequest) Encode(e *encoder) {
	e.str(m.Filename)
	e.str(m.Target)
	e.boolean(m.ReadWrite)
}
func DecodeAccessAddRequest(p []byte) (AccessAddRequest, error) {
	d := newDecoder(p)
	m := AccessAddRequest{Filename: d.str(), Target: d.str(), ReadWrite: d.boolean()}
	return m, d.finish()
}

type AccessRemoveRequest struct {
	Filename string
	Target   string
}

func (AccessRemoveRequest) Type() MessageType { return MsgAccessRemoveRequest }
func (m AccessRemoveRequest) Encode(e *encoder) {
	e.str(m.Filename)
	e.str(m.Target)
}
func DecodeAccessRemoveRequest(p []byte) (AccessRemoveRequest, error) {
	d := newDecoder(p)
	m := AccessRemoveRequest{Filename: d.str(), Target: d.str()}
	return m, d.finish()
}

type ExecRequest struct{ Filename string }

func (ExecRequest) Type() MessageType   { return MsgExecRequest }
func (m ExecRequest) Encode(e *encoder) { e.str(m.Filename) }
func DecodeExecRequest(p []byte) (ExecRequest, error) {
	d := newDecoder(p)
	m := ExecRequest{Filename: d.str()}
	return m, d.finish()
}

type ExecResponse struct{ Output string }

func (ExecResponse) Type() MessageType   { return MsgExecResponse }
func (m ExecResponse) Encode(e *encoder) { e.str(m.Output) }
func DecodeExecResponse(p []byte) (ExecResponse, error) {
	d := newDecoder(p)
	m := ExecResponse{Output: d.str()}
	return m, d.finish()
}

// FolderOp enumerates the folder-navigation command family.
type FolderOp uint8

const (
	FolderOpCreate FolderOp = iota
	FolderOpView
	FolderOpMove
	FolderOpUpMove
	FolderOpOpen
	FolderOpOpenCreate
	FolderOpOpenParent
)

type FolderCommandRequest struct {
	Op   FolderOp
	Path string // directory path, or filename for Move/UpMove
	Dest string // destination directory for Move
}

func (FolderCommandRequest) Type() MessageType { return MsgFolderCommandRequest }
func (m FolderCommandRequest) Encode(e *encoder) {
	e.u8(uint8(m.Op))
	e.str(m.Path)
	e.str(m.Dest)
}
func DecodeFolderCommandRequest(p []byte) (FolderCommandRequest, error) {
	d := newDecoder(p)
	m := FolderCommandRequest{Op: FolderOp(d.u8()), Path: d.str(), Dest: d.str()}
	return m, d.finish()
}

type FolderCommandResponse struct {
	Entries []string // for View: child names; otherwise unused
}

func (FolderCommandResponse) Type() MessageType { return MsgFolderCommandResponse }
func (m FolderCommandResponse) Encode(e *encoder) {
	e.u32(uint32(len(m.Entries)))
	for _, ent := range m.Entries {
		e.str(ent)
	}
}
func DecodeFolderCommandResponse(p []byte) (FolderCommandResponse, error) {
	d := newDecoder(p)
	n := d.u32()
	m := FolderCommandResponse{}
	for i := uint32(0); i < n && d.err == nil; i++ {
		m.Entries = append(m.Entries, d.str())
	}
	return m, d.finish()
}

type RequestAccessRequest struct{ Filename string }

func (RequestAccessRequest) Type() MessageType   { return MsgRequestAccessRequest }
func (m RequestAccessRequest) Encode(e *encoder) { e.str(m.Filename) }
func DecodeRequestAccessRequest(p []byte) (RequestAccessRequest, error) {
	d := newDecoder(p)
	m := RequestAccessRequest{Filename: d.str()}
	return m, d.finish()
}

type ViewAccessRequestsRequest struct{}

func (ViewAccessRequestsRequest) Type() MessageType { return MsgViewAccessRequestsRequest }
func (ViewAccessRequestsRequest) Encode(e *encoder) {}
func DecodeViewAccessRequestsRequest([]byte) (ViewAccessRequestsRequest, error) {
	return ViewAccessRequestsRequest{}, nil
}

type AccessRequestEntry struct {
	Requester string
	Filename  string
}

type ViewAccessRequestsResponse struct{ Requests []AccessRequestEntry }

func (ViewAccessRequestsResponse) Type() MessageType { return MsgViewAccessRequestsResponse }
func (m ViewAccessRequestsResponse) Encode(e *encoder) {
	e.u32(uint32(len(m.Requests)))
	for _, r := range m.Requests {
		e.str(r.Requester)
		e.str(r.Filename)
	}
}
func DecodeViewAccessRequestsResponse(p []byte) (ViewAccessRequestsResponse, error) {
	d := newDecoder(p)
	n := d.u32()
	m := ViewAccessRequestsResponse{}
	for i := uint32(0); i < n && d.err == nil; i++ {
		m.Requests = append(m.Requests, AccessRequestEntry{Requester: d.str(), Filename: d.str()})
	}
	return m, d.finish()
}

type GrantAccessRequest struct {
	Filename  string
	Target    string
	ReadWrite bool
}

func (GrantAccessRequest) Type() MessageType { return MsgGrantAccessRequest }
func (m GrantAccessRequest) Encode(e *encoder) {
	e.str(m.Filename)
	e.str(m.Target)
	e.boolean(m.ReadWrite)
}
func DecodeGrantAccessRequest(p []byte) (GrantAccessRequest, error) {
	d := newDecoder(p)
	m := GrantAccessRequest{Filename: d.str(), Target: d.str(), ReadWrite: d.boolean()}
	return m, d.finish()
}

// RedirectKind selects which content operation the client wants to perform
// against whatever SN the directory service names in the response.
type RedirectKind uint8

const (
	RedirectRead RedirectKind = iota
	RedirectStream
	RedirectWrite
	RedirectUndo
	RedirectCheckpoint
)

type RedirectRequest struct {
	Kind     RedirectKind
	Filename string
}

func (RedirectRequest) Type() MessageType { return MsgRedirectRequest }
func (m RedirectRequest) Encode(e *encoder) {
	e.u8(uint8(m.Kind))
	e.str(m.Filename)
}
func DecodeRedirectRequest(p []byte) (RedirectRequest, error) {
	d := newDecoder(p)
	m := RedirectRequest{Kind: RedirectKind(d.u8()), Filename: d.str()}
	return m, d.finish()
}

type RedirectResponse struct {
	Owner        string // resolved owning user, for shared files
	ClientEndpoint string
}

func (RedirectResponse) Type() MessageType { return MsgRedirectResponse }
func (m RedirectResponse) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.ClientEndpoint)
}
func DecodeRedirectResponse(p []byte) (RedirectResponse, error) {
	d := newDecoder(p)
	m := RedirectResponse{Owner: d.str(), ClientEndpoint: d.str()}
	return m, d.finish()
}

// ---- Directory Service <-> Storage Node -----------------------------------

type RegisterFileEntry struct {
	Filename string
	Size     int64
}

type RegisterRequest struct {
	IP             string
	ClientPort     int32
	BackupPort     int32
	Files          []RegisterFileEntry
}

func (RegisterRequest) Type() MessageType { return MsgRegisterRequest }
func (m RegisterRequest) Encode(e *encoder) {
	e.str(m.IP)
	e.u32(uint32(m.ClientPort))
	e.u32(uint32(m.BackupPort))
	e.u32(uint32(len(m.Files)))
	for _, f := range m.Files {
		e.str(f.Filename)
		e.i64(f.Size)
	}
}
func DecodeRegisterRequest(p []byte) (RegisterRequest, error) {
	d := newDecoder(p)
	m := RegisterRequest{IP: d.str(), ClientPort: int32(d.u32()), BackupPort: int32(d.u32())}
	n := d.u32()
	for i := uint32(0); i < n && d.err == nil; i++ {
		m.Files = append(m.Files, RegisterFileEntry{Filename: d.str(), Size: d.i64()})
	}
	return m, d.finish()
}

type RegisterAck struct {
	AssignedID           uint64
	MustRecover          bool
	BackupOf             uint64
	HasBackupOf          bool
	ReplicationTargetIP   string
	ReplicationTargetPort int32
	HasReplicationTarget  bool
}

func (RegisterAck) Type() MessageType { return MsgRegisterAck }
func (m RegisterAck) Encode(e *encoder) {
	e.u64(m.AssignedID)
	e.boolean(m.MustRecover)
	e.u64(m.BackupOf)
	e.boolean(m.HasBackupOf)
	e.str(m.ReplicationTargetIP)
	e.u32(uint32(m.ReplicationTargetPort))
	e.boolean(m.HasReplicationTarget)
}
func DecodeRegisterAck(p []byte) (RegisterAck, error) {
	d := newDecoder(p)
	m := RegisterAck{
		AssignedID: d.u64(), MustRecover: d.boolean(), BackupOf: d.u64(), HasBackupOf: d.boolean(),
		ReplicationTargetIP: d.str(), ReplicationTargetPort: int32(d.u32()), HasReplicationTarget: d.boolean(),
	}
	return m, d.finish()
}

type Heartbeat struct{ SNID uint64 }

func (Heartbeat) Type() MessageType   { return MsgHeartbeat }
func (m Heartbeat) Encode(e *encoder) { e.u64(m.SNID) }
func DecodeHeartbeat(p []byte) (Heartbeat, error) {
	d := newDecoder(p)
	m := Heartbeat{SNID: d.u64()}
	return m, d.finish()
}

type SNInfoRequest struct {
	Owner    string
	Filename string
}

func (SNInfoRequest) Type() MessageType { return MsgSNInfoRequest }
func (m SNInfoRequest) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeSNInfoRequest(p []byte) (SNInfoRequest, error) {
	d := newDecoder(p)
	m := SNInfoRequest{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

// SNInfoResponse answers an SNInfoRequest with the stat fields the
// directory service re-packages into an InfoResponse for the client; Owner
// is omitted since the directory service already knows it from the
// file-map entry it used to route the request.
type SNInfoResponse struct {
	Size          int64
	Words         int64
	Chars         int64
	LastAccessSec int64
	LastModSec    int64
}

func (SNInfoResponse) Type() MessageType { return MsgSNInfoResponse }
func (m SNInfoResponse) Encode(e *encoder) {
	e.i64(m.Size)
	e.i64(m.Words)
	e.i64(m.Chars)
	e.i64(m.LastAccessSec)
	e.i64(m.LastModSec)
}
func DecodeSNInfoResponse(p []byte) (SNInfoResponse, error) {
	d := newDecoder(p)
	m := SNInfoResponse{
		Size: d.i64(), Words: d.i64(), Chars: d.i64(),
		LastAccessSec: d.i64(), LastModSec: d.i64(),
	}
	return m, d.finish()
}

type SNExecFetchRequest struct {
	Owner    string
	Filename string
}

func (SNExecFetchRequest) Type() MessageType { return MsgSNExecFetchRequest }
func (m SNExecFetchRequest) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeSNExecFetchRequest(p []byte) (SNExecFetchRequest, error) {
	d := newDecoder(p)
	m := SNExecFetchRequest{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

type SNExecFetchResponse struct{ Content []byte }

func (SNExecFetchResponse) Type() MessageType   { return MsgSNExecFetchResponse }
func (m SNExecFetchResponse) Encode(e *encoder) { e.bytesField(m.Content) }
func DecodeSNExecFetchResponse(p []byte) (SNExecFetchResponse, error) {
	d := newDecoder(p)
	m := SNExecFetchResponse{Content: d.bytesField()}
	return m, d.finish()
}

type SNCreateCmd struct {
	Owner    string
	Filename string
}

func (SNCreateCmd) Type() MessageType { return MsgSNCreateCmd }
func (m SNCreateCmd) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeSNCreateCmd(p []byte) (SNCreateCmd, error) {
	d := newDecoder(p)
	m := SNCreateCmd{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

type SNDeleteCmd struct {
	Owner    string
	Filename string
}

func (SNDeleteCmd) Type() MessageType { return MsgSNDeleteCmd }
func (m SNDeleteCmd) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeSNDeleteCmd(p []byte) (SNDeleteCmd, error) {
	d := newDecoder(p)
	m := SNDeleteCmd{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

type SyncFromBackupCmd struct {
	PredecessorIP   string
	PredecessorPort int32
}

func (SyncFromBackupCmd) Type() MessageType { return MsgSyncFromBackupCmd }
func (m SyncFromBackupCmd) Encode(e *encoder) {
	e.str(m.PredecessorIP)
	e.u32(uint32(m.PredecessorPort))
}
func DecodeSyncFromBackupCmd(p []byte) (SyncFromBackupCmd, error) {
	d := newDecoder(p)
	m := SyncFromBackupCmd{PredecessorIP: d.str(), PredecessorPort: int32(d.u32())}
	return m, d.finish()
}

type SyncToPrimaryCmd struct{}

func (SyncToPrimaryCmd) Type() MessageType { return MsgSyncToPrimaryCmd }
func (SyncToPrimaryCmd) Encode(e *encoder) {}
func DecodeSyncToPrimaryCmd([]byte) (SyncToPrimaryCmd, error) { return SyncToPrimaryCmd{}, nil }

type ReReplicateAllCmd struct {
	TargetIP   string
	TargetPort int32
}

func (ReReplicateAllCmd) Type() MessageType { return MsgReReplicateAllCmd }
func (m ReReplicateAllCmd) Encode(e *encoder) {
	e.str(m.TargetIP)
	e.u32(uint32(m.TargetPort))
}
func DecodeReReplicateAllCmd(p []byte) (ReReplicateAllCmd, error) {
	d := newDecoder(p)
	m := ReReplicateAllCmd{TargetIP: d.str(), TargetPort: int32(d.u32())}
	return m, d.finish()
}

type UpdateBackupCmd struct {
	HasTarget  bool
	TargetIP   string
	TargetPort int32
}

func (UpdateBackupCmd) Type() MessageType { return MsgUpdateBackupCmd }
func (m UpdateBackupCmd) Encode(e *encoder) {
	e.boolean(m.HasTarget)
	e.str(m.TargetIP)
	e.u32(uint32(m.TargetPort))
}
func DecodeUpdateBackupCmd(p []byte) (UpdateBackupCmd, error) {
	d := newDecoder(p)
	m := UpdateBackupCmd{HasTarget: d.boolean(), TargetIP: d.str(), TargetPort: int32(d.u32())}
	return m, d.finish()
}

// ---- Client <-> Storage Node ------------------------------------------------

type ReadRequest struct {
	Owner    string
	Filename string
}

func (ReadRequest) Type() MessageType { return MsgReadRequest }
func (m ReadRequest) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeReadRequest(p []byte) (ReadRequest, error) {
	d := newDecoder(p)
	m := ReadRequest{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

type ReadChunk struct {
	Data    []byte
	IsFinal bool
}

func (ReadChunk) Type() MessageType { return MsgReadChunk }
func (m ReadChunk) Encode(e *encoder) {
	e.bytesField(m.Data)
	e.boolean(m.IsFinal)
}
func DecodeReadChunk(p []byte) (ReadChunk, error) {
	d := newDecoder(p)
	m := ReadChunk{Data: d.bytesField(), IsFinal: d.boolean()}
	return m, d.finish()
}

type StreamRequest struct {
	Owner    string
	Filename string
}

func (StreamRequest) Type() MessageType { return MsgStreamRequest }
func (m StreamRequest) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeStreamRequest(p []byte) (StreamRequest, error) {
	d := newDecoder(p)
	m := StreamRequest{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

type StreamWord struct{ Word string }

func (StreamWord) Type() MessageType   { return MsgStreamWord }
func (m StreamWord) Encode(e *encoder) { e.str(m.Word) }
func DecodeStreamWord(p []byte) (StreamWord, error) {
	d := newDecoder(p)
	m := StreamWord{Word: d.str()}
	return m, d.finish()
}

type StreamEnd struct{}

func (StreamEnd) Type() MessageType { return MsgStreamEnd }
func (StreamEnd) Encode(e *encoder) {}
func DecodeStreamEnd([]byte) (StreamEnd, error) { return StreamEnd{}, nil }

type WriteStartRequest struct {
	Owner         string
	Filename      string
	SentenceIndex int64
}

func (WriteStartRequest) Type() MessageType { return MsgWriteStartRequest }
func (m WriteStartRequest) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
	e.i64(m.SentenceIndex)
}
func DecodeWriteStartRequest(p []byte) (WriteStartRequest, error) {
	d := newDecoder(p)
	m := WriteStartRequest{Owner: d.str(), Filename: d.str(), SentenceIndex: d.i64()}
	return m, d.finish()
}

type WriteOK struct{}

func (WriteOK) Type() MessageType { return MsgWriteOK }
func (WriteOK) Encode(e *encoder) {}
func DecodeWriteOK([]byte) (WriteOK, error) { return WriteOK{}, nil }

type WriteLocked struct{}

func (WriteLocked) Type() MessageType { return MsgWriteLocked }
func (WriteLocked) Encode(e *encoder) {}
func DecodeWriteLocked([]byte) (WriteLocked, error) { return WriteLocked{}, nil }

// WriteStartError reports an edit-bounds failure on the initial WRITE,
// which aborts the transaction entirely (unlike a per-subquery bounds error).
type WriteStartError struct{ Message string }

func (WriteStartError) Type() MessageType   { return MsgWriteStartError }
func (m WriteStartError) Encode(e *encoder) { e.str(m.Message) }
func DecodeWriteStartError(p []byte) (WriteStartError, error) {
	d := newDecoder(p)
	m := WriteStartError{Message: d.str()}
	return m, d.finish()
}

type WriteDataRequest struct {
	WordIndex int64
	Content   string
}

func (WriteDataRequest) Type() MessageType { return MsgWriteDataRequest }
func (m WriteDataRequest) Encode(e *encoder) {
	e.i64(m.WordIndex)
	e.str(m.Content)
}
func DecodeWriteDataRequest(p []byte) (WriteDataRequest, error) {
	d := newDecoder(p)
	m := WriteDataRequest{WordIndex: d.i64(), Content: d.str()}
	return m, d.finish()
}

// WriteDataAck reports per-subquery success/failure without aborting the
// transaction.
type WriteDataAck struct {
	Success bool
	Message string
}

func (WriteDataAck) Type() MessageType { return MsgWriteDataAck }
func (m WriteDataAck) Encode(e *encoder) {
	e.boolean(m.Success)
	e.str(m.Message)
}
func DecodeWriteDataAck(p []byte) (WriteDataAck, error) {
	d := newDecoder(p)
	m := WriteDataAck{Success: d.boolean(), Message: d.str()}
	return m, d.finish()
}

type WriteEtirw struct{}

func (WriteEtirw) Type() MessageType { return MsgWriteEtirw }
func (WriteEtirw) Encode(e *encoder) {}
func DecodeWriteEtirw([]byte) (WriteEtirw, error) { return WriteEtirw{}, nil }

type UndoRequest struct {
	Owner    string
	Filename string
}

func (UndoRequest) Type() MessageType { return MsgUndoRequest }
func (m UndoRequest) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeUndoRequest(p []byte) (UndoRequest, error) {
	d := newDecoder(p)
	m := UndoRequest{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

// CheckpointOp enumerates the checkpoint sub-operations.
type CheckpointOp uint8

const (
	CheckpointCreate CheckpointOp = iota
	CheckpointRevert
	CheckpointView
	CheckpointList
)

type CheckpointRequestMsg struct {
	Op       CheckpointOp
	Owner    string
	Filename string
	Tag      string
}

func (CheckpointRequestMsg) Type() MessageType { return MsgCheckpointRequest }
func (m CheckpointRequestMsg) Encode(e *encoder) {
	e.u8(uint8(m.Op))
	e.str(m.Owner)
	e.str(m.Filename)
	e.str(m.Tag)
}
func DecodeCheckpointRequestMsg(p []byte) (CheckpointRequestMsg, error) {
	d := newDecoder(p)
	m := CheckpointRequestMsg{Op: CheckpointOp(d.u8()), Owner: d.str(), Filename: d.str(), Tag: d.str()}
	return m, d.finish()
}

type CheckpointListResponse struct{ Tags []string }

func (CheckpointListResponse) Type() MessageType { return MsgCheckpointListResponse }
func (m CheckpointListResponse) Encode(e *encoder) {
	e.u32(uint32(len(m.Tags)))
	for _, t := range m.Tags {
		e.str(t)
	}
}
func DecodeCheckpointListResponse(p []byte) (CheckpointListResponse, error) {
	d := newDecoder(p)
	n := d.u32()
	m := CheckpointListResponse{}
	for i := uint32(0); i < n && d.err == nil; i++ {
		m.Tags = append(m.Tags, d.str())
	}
	return m, d.finish()
}

// ---- Storage Node <-> Storage Node -----------------------------------------

type ReplicateFileMsg struct {
	Owner    string
	Filename string
	Data     []byte
}

func (ReplicateFileMsg) Type() MessageType { return MsgReplicateFile }
func (m ReplicateFileMsg) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
	e.bytesField(m.Data)
}
func DecodeReplicateFileMsg(p []byte) (ReplicateFileMsg, error) {
	d := newDecoder(p)
	m := ReplicateFileMsg{Owner: d.str(), Filename: d.str(), Data: d.bytesField()}
	return m, d.finish()
}

type DeleteFileMsg struct {
	Owner    string
	Filename string
}

func (DeleteFileMsg) Type() MessageType { return MsgDeleteFile }
func (m DeleteFileMsg) Encode(e *encoder) {
	e.str(m.Owner)
	e.str(m.Filename)
}
func DecodeDeleteFileMsg(p []byte) (DeleteFileMsg, error) {
	d := newDecoder(p)
	m := DeleteFileMsg{Owner: d.str(), Filename: d.str()}
	return m, d.finish()
}

type SNAck struct{ Success bool }

func (SNAck) Type() MessageType   { return MsgSNAck }
func (m SNAck) Encode(e *encoder) { e.boolean(m.Success) }
func DecodeSNAck(p []byte) (SNAck, error) {
	d := newDecoder(p)
	m := SNAck{Success: d.boolean()}
	return m, d.finish()
}

// UnknownMessageTypeError formats a diagnostic for a frame whose type this
// package does not recognize.
func UnknownMessageTypeError(t MessageType) error {
	return fmt.Errorf("unknown wire message type %d", uint32(t))
}
