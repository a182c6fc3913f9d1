// Package wire holds the ssh-agent field primitives: uint32 big-endian
// integers and length-prefixed byte strings.
package wire

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/cryptobyte"
)

// StringHeaderLen is the size of the length prefix in front of every string.
const StringHeaderLen = 4

var (
	ErrLengthOverflow = errors.New("wire: length overflows uint32 prefix")
	ErrTruncated      = errors.New("wire: truncated data")
)

// AppendString appends value to dst as a uint32 big-endian length followed
// by the raw bytes.
func AppendString(dst, value []byte) ([]byte, error) {
	if uint64(len(value)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrLengthOverflow, len(value))
	}
	b := cryptobyte.NewBuilder(dst)
	b.AddUint32LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(value)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLengthOverflow, err)
	}
	return out, nil
}

// AppendStrings appends each value with AppendString, in order.
func AppendStrings(dst []byte, values ...[]byte) ([]byte, error) {
	var err error
	for _, v := range values {
		dst, err = AppendString(dst, v)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func AppendUint32(dst []byte, v uint32) []byte {
	b := cryptobyte.NewBuilder(dst)
	b.AddUint32(v)
	return b.BytesOrPanic()
}

// ReadString decodes one length-prefixed string from the front of src and
// returns it along with the unread remainder. The returned value aliases src.
func ReadString(src []byte) (value, rest []byte, err error) {
	s := cryptobyte.String(src)
	var n uint32
	if !s.ReadUint32(&n) {
		return nil, nil, fmt.Errorf("%w: string needs %d+ bytes, have %d", ErrTruncated, StringHeaderLen, len(src))
	}
	if uint64(n) > uint64(len(s)) {
		return nil, nil, fmt.Errorf("%w: string declares %d bytes, have %d", ErrTruncated, n, len(s))
	}
	var v []byte
	if !s.ReadBytes(&v, int(n)) {
		return nil, nil, fmt.Errorf("%w: string declares %d bytes, have %d", ErrTruncated, n, len(s))
	}
	return v, []byte(s), nil
}

func ReadUint32(src []byte) (uint32, []byte, error) {
	s := cryptobyte.String(src)
	var v uint32
	if !s.ReadUint32(&v) {
		return 0, nil, fmt.Errorf("%w: uint32 needs 4 bytes, have %d", ErrTruncated, len(src))
	}
	return v, []byte(s), nil
}

// EncodedStringLen is the number of bytes AppendString adds for value.
func EncodedStringLen(value []byte) int {
	return StringHeaderLen + len(value)
}
