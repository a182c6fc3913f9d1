package agent

import (
	"fmt"

	"github.com/danmuck/agentctl/internal/protocol/wire"
)

// Constraint tags for AddConstrained.
const (
	ConstrainLifetime byte = 1
	ConstrainConfirm  byte = 2
)

// Constraint is one encoded restriction on an added identity.
type Constraint struct {
	payload []byte
}

// Lifetime expires the identity after seconds.
func Lifetime(seconds uint32) Constraint {
	return Constraint{payload: wire.AppendUint32([]byte{ConstrainLifetime}, seconds)}
}

// Confirm requires the agent to confirm each use of the identity.
func Confirm() Constraint {
	return Constraint{payload: []byte{ConstrainConfirm}}
}

func (c Constraint) Payload() []byte {
	return c.payload
}

func (c Constraint) String() string {
	if len(c.payload) == 0 {
		return "constraint(empty)"
	}
	switch c.payload[0] {
	case ConstrainLifetime:
		if secs, _, err := wire.ReadUint32(c.payload[1:]); err == nil {
			return fmt.Sprintf("lifetime(%ds)", secs)
		}
	case ConstrainConfirm:
		return "confirm"
	}
	return fmt.Sprintf("constraint(tag=%d)", c.payload[0])
}

// JoinConstraints concatenates constraint payloads for AddConstrained.
func JoinConstraints(constraints ...Constraint) []byte {
	var out []byte
	for _, c := range constraints {
		out = append(out, c.payload...)
	}
	return out
}

// ParseConstraints splits a concatenation of lifetime and confirm entries.
func ParseConstraints(b []byte) ([]Constraint, error) {
	var out []Constraint
	for len(b) > 0 {
		switch b[0] {
		case ConstrainLifetime:
			secs, rest, err := wire.ReadUint32(b[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: lifetime: %w", ErrInvalidConstraint, err)
			}
			out = append(out, Lifetime(secs))
			b = rest
		case ConstrainConfirm:
			out = append(out, Confirm())
			b = b[1:]
		default:
			return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidConstraint, b[0])
		}
	}
	return out, nil
}
