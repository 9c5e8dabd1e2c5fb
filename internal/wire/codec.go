// Package wire implements the framed wire protocol (C9) shared by the
// directory service and storage node: a fixed {type, payload_len} header
// followed by a canonically-encoded payload. The encoding is big-endian,
// length-prefixed for variable-size fields, chosen once here and used by
// every peer so DS and SN never need to negotiate byte order.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/textfs/textfs/pkg/dfserrors"
)

// MaxPayload bounds a single frame's payload to 4 KiB. File read chunks are
// sized to fit under this ceiling.
const MaxPayload = 4096

// MaxString bounds any individual length-prefixed string field, generous
// enough for a path component (up to 1023 bytes) plus margin.
const MaxString = 1024

// headerSize is the encoded size of {type uint32, payload_len uint32}.
const headerSize = 8

// Header is the fixed framing header preceding every message's payload.
type Header struct {
	Type       MessageType
	PayloadLen uint32
}

// WriteHeader writes a frame header.
func WriteHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[4:8], h.PayloadLen)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads a frame header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("short read on frame header: %w", err)
	}
	h := Header{
		Type:       MessageType(binary.BigEndian.Uint32(buf[0:4])),
		PayloadLen: binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.PayloadLen > MaxPayload {
		return Header{}, dfserrors.New(dfserrors.CodeOversizePayload,
			fmt.Sprintf("payload_len %d exceeds max %d", h.PayloadLen, MaxPayload)).
			WithComponent("wire")
	}
	return h, nil
}

// Frame is a decoded message: its type and raw payload bytes.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("short read on frame payload: %w", err)
		}
	}
	return Frame{Type: h.Type, Payload: payload}, nil
}

// WriteFrame writes a complete frame (header + payload) to w.
func WriteFrame(w io.Writer, msgType MessageType, payload []byte) error {
	if len(payload) > MaxPayload {
		return dfserrors.New(dfserrors.CodeOversizePayload,
			fmt.Sprintf("payload of %d bytes exceeds max %d", len(payload), MaxPayload)).
			WithComponent("wire")
	}
	if err := WriteHeader(w, Header{Type: msgType, PayloadLen: uint32(len(payload))}); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// WriteMessage encodes msg and writes it as a complete frame.
func WriteMessage(w io.Writer, msg Message) error {
	var buf encoder
	msg.Encode(&buf)
	if buf.err != nil {
		return buf.err
	}
	return WriteFrame(w, msg.Type(), buf.bytes())
}

// --- primitive encode/decode helpers -------------------------------------

// encoder accumulates bytes for a payload, short-circuiting on first error
// so call sites can chain encode calls without per-call error checks.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) u8(v uint8) {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, v)
}

func (e *encoder) u32(v uint32) {
	if e.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	if e.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	if e.err != nil {
		return
	}
	if len(s) > MaxString {
		e.err = dfserrors.New(dfserrors.CodeOversizePayload,
			fmt.Sprintf("string field of %d bytes exceeds max %d", len(s), MaxString)).
			WithComponent("wire")
		return
	}
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) bytesField(b []byte) {
	if e.err != nil {
		return
	}
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// decoder reads sequentially from a payload buffer, short-circuiting on the
// first error the same way encoder does.
type decoder struct {
	buf []byte
	pos int
	err error
}

func newDecoder(payload []byte) *decoder { return &decoder{buf: payload} }

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.pos+n > len(d.buf) {
		d.fail(dfserrors.New(dfserrors.CodeShortRead, "payload truncated").WithComponent("wire"))
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.pos]
	d.pos++
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) boolean() bool { return d.u8() != 0 }

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if n > MaxString {
		d.fail(dfserrors.New(dfserrors.CodeOversizePayload, "string field too large").WithComponent("wire"))
		return ""
	}
	if !d.need(int(n)) {
		return ""
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s
}

func (d *decoder) bytesField() []byte {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if n > MaxPayload {
		d.fail(dfserrors.New(dfserrors.CodeOversizePayload, "bytes field too large").WithComponent("wire"))
		return nil
	}
	if !d.need(int(n)) {
		return nil
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return b
}

func (d *decoder) finish() error {
	return d.err
}
