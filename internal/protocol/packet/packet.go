// Package packet owns ssh-agent framing: one uint32 big-endian length
// followed by a payload whose first byte is the message kind.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const HeaderLen = 4

var (
	ErrEncoding        = errors.New("packet: encoding failed")
	ErrPayloadTooLarge = errors.New("packet: payload too large")
	ErrEmptyPacket     = errors.New("packet: empty payload")
	ErrStreamClosed    = errors.New("packet: stream closed")
	ErrKindMismatch    = errors.New("packet: payload tag does not match kind")
	ErrShortWrite      = errors.New("packet: short write")
)

// Limits constrains packet decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

// DefaultLimits matches the largest message OpenSSH's agent accepts.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 256 * 1024,
	}
}

// Check reports ErrPayloadTooLarge when a payload of n bytes cannot be
// written under l. It fails before anything touches the stream.
func (l Limits) Check(n int) error {
	size := uint64(n)
	if size > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes exceeds uint32 length", ErrPayloadTooLarge, size)
	}
	if l.MaxPayloadBytes > 0 && size > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, size, l.MaxPayloadBytes)
	}
	return nil
}

// Packet is one complete agent message. The kind is carried twice: in the
// struct for callers and as payload[0] on the wire.
type Packet struct {
	kind    Kind
	payload []byte
}

func New(kind Kind, payload []byte) Packet {
	return Packet{kind: kind, payload: payload}
}

func (p *Packet) SetKind(kind Kind) *Packet {
	p.kind = kind
	return p
}

func (p *Packet) SetPayload(payload []byte) *Packet {
	p.payload = payload
	return p
}

func (p Packet) Kind() Kind {
	return p.kind
}

func (p Packet) Payload() []byte {
	return p.payload
}

// Body is the payload without its leading kind byte.
func (p Packet) Body() []byte {
	if len(p.payload) == 0 {
		return nil
	}
	return p.payload[1:]
}

func (p Packet) String() string {
	return fmt.Sprintf("%s len=%d", p.kind, len(p.payload))
}

// Validate checks the kind/payload agreement for a packet about to be written.
func (p Packet) Validate() error {
	if len(p.payload) == 0 {
		return ErrEmptyPacket
	}
	if Kind(p.payload[0]) != p.kind {
		return fmt.Errorf("%w: kind=%s tag=%d", ErrKindMismatch, p.kind, p.payload[0])
	}
	return nil
}

type flusher interface {
	Flush() error
}

// WritePacket writes the length header and payload as one buffer, then
// flushes w when it buffers.
func WritePacket(w io.Writer, p Packet, limits Limits) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := limits.Check(len(p.payload)); err != nil {
		return err
	}
	payloadLen := uint64(len(p.payload))

	buf := make([]byte, HeaderLen+len(p.payload))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(payloadLen))
	copy(buf[HeaderLen:], p.payload)
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(buf))
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// ReadPacket reads one complete packet from r.
//
// A declared length above limits is drained from r before ErrPayloadTooLarge
// is returned, so the next read starts on a frame boundary.
func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, readFailure(err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return Packet{}, ErrEmptyPacket
	}
	if limits.MaxPayloadBytes > 0 && uint64(length) > limits.MaxPayloadBytes {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return Packet{}, readFailure(err)
		}
		return Packet{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, length, limits.MaxPayloadBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, readFailure(err)
	}
	return Packet{kind: Kind(payload[0]), payload: payload}, nil
}

func readFailure(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	return err
}

// IsMalformedFrame reports whether err came from a bad frame on a stream
// that is still aligned and readable. Any other read error means the
// stream itself is gone.
func IsMalformedFrame(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrEmptyPacket)
}
