package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := CreateRequest{Filename: "notes.txt"}
	require.NoError(t, WriteMessage(&buf, msg))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgCreateRequest, frame.Type)

	got, err := DecodeCreateRequest(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestWriteDataRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := WriteDataRequest{WordIndex: 1, Content: "very"}
	require.NoError(t, WriteMessage(&buf, msg))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	got, err := DecodeWriteDataRequest(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestOversizePayloadRejected(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxPayload+1)
	err := WriteFrame(&buf, MsgReplicateFile, big)
	require.Error(t, err)
}

func TestReplicateFileRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := ReplicateFileMsg{Owner: "alice", Filename: "notes.txt", Data: []byte("Hello world.")}
	require.NoError(t, WriteMessage(&buf, msg))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	got, err := DecodeReplicateFileMsg(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestShortReadHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
