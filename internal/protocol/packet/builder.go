package packet

import (
	"fmt"

	"github.com/danmuck/agentctl/internal/protocol/wire"
)

// Builder turns one typed request into a wire packet.
type Builder interface {
	Packet() (Packet, error)
}

// payloadWriter accumulates a payload and keeps the first encoding error.
type payloadWriter struct {
	kind Kind
	buf  []byte
	err  error
}

func newPayload(kind Kind, sizeHint int) *payloadWriter {
	buf := make([]byte, 1, 1+sizeHint)
	buf[0] = byte(kind)
	return &payloadWriter{kind: kind, buf: buf}
}

// stringsLen is the encoded size of values as consecutive strings.
func stringsLen(values ...[]byte) int {
	n := 0
	for _, v := range values {
		n += wire.EncodedStringLen(v)
	}
	return n
}

func (w *payloadWriter) str(field string, value []byte) {
	if w.err != nil {
		return
	}
	buf, err := wire.AppendString(w.buf, value)
	if err != nil {
		w.err = fmt.Errorf("%w: %s %s: %w", ErrEncoding, w.kind, field, err)
		return
	}
	w.buf = buf
}

func (w *payloadWriter) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = wire.AppendUint32(w.buf, v)
}

func (w *payloadWriter) raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *payloadWriter) packet() (Packet, error) {
	if w.err != nil {
		return Packet{}, w.err
	}
	var p Packet
	p.SetKind(w.kind).SetPayload(w.buf)
	return p, nil
}
