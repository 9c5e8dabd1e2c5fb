//go:build linux

// Package fusegw mounts one logged-in user's files as a local FUSE
// filesystem, driving the same directory-service and storage-node wire
// protocol a CLI front end would. It is read/append-mostly: writes are
// accepted only for a file's single, as-yet-unterminated sentence (spec
// §1's non-goals rule out general POSIX semantics, so this stays a veneer
// over the text-edit protocol rather than a relaxation of it).
package fusegw

import (
	"fmt"
	"net"

	"github.com/textfs/textfs/internal/textmodel"
	"github.com/textfs/textfs/internal/wire"
)

// client owns one authenticated connection to the directory service and
// dials storage nodes on demand as VIEW/REDIRECT name them.
type client struct {
	dsAddr string
	conn   net.Conn
}

func dialDS(dsAddr, username, password string) (*client, error) {
	conn, err := net.Dial("tcp", dsAddr)
	if err != nil {
		return nil, fmt.Errorf("fusegw: dialing directory service %s: %w", dsAddr, err)
	}
	c := &client{dsAddr: dsAddr, conn: conn}
	if err := wire.WriteMessage(conn, wire.LoginRequest{Username: username, Password: password}); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := expect[wire.LoginResponse](conn, wire.MsgLoginResponse, wire.DecodeLoginResponse)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !resp.Success {
		conn.Close()
		return nil, fmt.Errorf("fusegw: login failed: %s", resp.Message)
	}
	return c, nil
}

func (c *client) Close() error { return c.conn.Close() }

// view lists the files the logged-in user owns or has been granted access to.
func (c *client) view() ([]wire.ViewEntry, error) {
	if err := wire.WriteMessage(c.conn, wire.ViewRequest{}); err != nil {
		return nil, err
	}
	resp, err := expect[wire.ViewResponse](c.conn, wire.MsgViewResponse, wire.DecodeViewResponse)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *client) create(filename string) error {
	if err := wire.WriteMessage(c.conn, wire.CreateRequest{Filename: filename}); err != nil {
		return err
	}
	return c.expectOK()
}

func (c *client) delete(filename string) error {
	if err := wire.WriteMessage(c.conn, wire.DeleteRequest{Filename: filename}); err != nil {
		return err
	}
	return c.expectOK()
}

func (c *client) info(filename string) (wire.InfoResponse, error) {
	if err := wire.WriteMessage(c.conn, wire.InfoRequest{Filename: filename}); err != nil {
		return wire.InfoResponse{}, err
	}
	return expect[wire.InfoResponse](c.conn, wire.MsgInfoResponse, wire.DecodeInfoResponse)
}

// redirect asks the directory service which storage node holds filename's
// content for the given operation kind and dials it directly.
func (c *client) redirect(kind wire.RedirectKind, filename string) (owner string, snConn net.Conn, err error) {
	if err := wire.WriteMessage(c.conn, wire.RedirectRequest{Kind: kind, Filename: filename}); err != nil {
		return "", nil, err
	}
	resp, err := expect[wire.RedirectResponse](c.conn, wire.MsgRedirectResponse, wire.DecodeRedirectResponse)
	if err != nil {
		return "", nil, err
	}
	sn, err := net.Dial("tcp", resp.ClientEndpoint)
	if err != nil {
		return "", nil, fmt.Errorf("fusegw: dialing storage node %s: %w", resp.ClientEndpoint, err)
	}
	return resp.Owner, sn, nil
}

func (c *client) expectOK() error {
	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if frame.Type == wire.MsgFail {
		f, err := wire.DecodeFail(frame.Payload)
		if err != nil {
			return err
		}
		return fmt.Errorf("fusegw: %s: %s", f.Code, f.Message)
	}
	if frame.Type != wire.MsgOK {
		return fmt.Errorf("fusegw: unexpected response type %d", frame.Type)
	}
	return nil
}

// readFile fetches a file's full content through a primary-storage-node
// redirect, reassembling the chunked READ_CHUNK stream.
func (c *client) readFile(filename string) ([]byte, error) {
	owner, sn, err := c.redirect(wire.RedirectRead, filename)
	if err != nil {
		return nil, err
	}
	defer sn.Close()

	if err := wire.WriteMessage(sn, wire.ReadRequest{Owner: owner, Filename: filename}); err != nil {
		return nil, err
	}
	var content []byte
	for {
		frame, err := wire.ReadFrame(sn)
		if err != nil {
			return nil, err
		}
		if frame.Type == wire.MsgFail {
			f, err := wire.DecodeFail(frame.Payload)
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("fusegw: %s: %s", f.Code, f.Message)
		}
		chunk, err := wire.DecodeReadChunk(frame.Payload)
		if err != nil {
			return nil, err
		}
		content = append(content, chunk.Data...)
		if chunk.IsFinal {
			return content, nil
		}
	}
}

// writeFile drives a single-sentence write transaction appending content as
// a brand-new sentence. It is only valid when the file is currently empty
// or its last sentence is already delimiter-terminated, and content must
// itself form exactly one sentence of individually short-enough words; the
// caller (Flush) is responsible for checking both before calling this.
func (c *client) writeFile(filename string, sentenceIndex int64, words []string) error {
	owner, sn, err := c.redirect(wire.RedirectWrite, filename)
	if err != nil {
		return err
	}
	defer sn.Close()

	if err := wire.WriteMessage(sn, wire.WriteStartRequest{Owner: owner, Filename: filename, SentenceIndex: sentenceIndex}); err != nil {
		return err
	}
	if frame, err := wire.ReadFrame(sn); err != nil {
		return err
	} else if frame.Type != wire.MsgWriteOK {
		if frame.Type == wire.MsgFail {
			f, ferr := wire.DecodeFail(frame.Payload)
			if ferr != nil {
				return ferr
			}
			return fmt.Errorf("fusegw: %s: %s", f.Code, f.Message)
		}
		return fmt.Errorf("fusegw: unexpected response type %d to WRITE_START", frame.Type)
	}

	for i, w := range words {
		if err := wire.WriteMessage(sn, wire.WriteDataRequest{WordIndex: int64(i), Content: w}); err != nil {
			return err
		}
		frame, err := wire.ReadFrame(sn)
		if err != nil {
			return err
		}
		if frame.Type != wire.MsgWriteDataAck {
			return fmt.Errorf("fusegw: unexpected response type %d to WRITE_DATA", frame.Type)
		}
		ack, err := wire.DecodeWriteDataAck(frame.Payload)
		if err != nil {
			return err
		}
		if !ack.Success {
			return fmt.Errorf("fusegw: storage node rejected word %d", i)
		}
	}

	if err := wire.WriteMessage(sn, wire.WriteEtirw{}); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(sn)
	if err != nil {
		return err
	}
	if frame.Type == wire.MsgFail {
		f, err := wire.DecodeFail(frame.Payload)
		if err != nil {
			return err
		}
		return fmt.Errorf("fusegw: %s: %s", f.Code, f.Message)
	}
	if frame.Type != wire.MsgOK {
		return fmt.Errorf("fusegw: unexpected response type %d to WRITE_ETIRW", frame.Type)
	}
	return nil
}

// splitSingleSentence validates that data decodes as exactly one sentence
// (no delimiter before its final byte) with every word short enough for the
// wire protocol, returning its words. Callers use this to decide between a
// write transaction and ENOTSUP.
func splitSingleSentence(data []byte) (words []string, ok bool) {
	s := string(data)
	sentences := textmodel.SplitSentences(s)
	if len(sentences) > 1 {
		return nil, false
	}
	if len(sentences) == 0 {
		return nil, true
	}
	for _, w := range textmodel.SplitWords(sentences[0]) {
		if len(w) > wire.MaxString {
			return nil, false
		}
	}
	return textmodel.SplitWords(sentences[0]), true
}

// expect reads one frame, decoding it with decode if it matches want, or
// translating a FAIL frame into an error.
func expect[T any](conn net.Conn, want wire.MessageType, decode func([]byte) (T, error)) (T, error) {
	var zero T
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return zero, err
	}
	if frame.Type == wire.MsgFail {
		f, ferr := wire.DecodeFail(frame.Payload)
		if ferr != nil {
			return zero, ferr
		}
		return zero, fmt.Errorf("fusegw: %s: %s", f.Code, f.Message)
	}
	if frame.Type != want {
		return zero, fmt.Errorf("fusegw: unexpected response type %d, want %d", frame.Type, want)
	}
	return decode(frame.Payload)
}
