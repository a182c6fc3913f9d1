package agent

import (
	"fmt"

	"github.com/danmuck/agentctl/internal/protocol/packet"
)

// Message is one application intent carried on the control channel.
// The set is closed: every variant is handled by packetFor.
type Message interface {
	fmt.Stringer
	isMessage()
}

type Add struct {
	KeyType []byte
	KeyBlob []byte
	Comment []byte
}

type AddConstrained struct {
	KeyType     []byte
	KeyBlob     []byte
	Comment     []byte
	Constraints []byte
}

type Remove struct {
	KeyBlob []byte
}

type RemoveAll struct{}

type List struct{}

type Sign struct {
	KeyBlob []byte
	Data    []byte
	Flags   uint32
}

type Lock struct {
	Passphrase []byte
}

type Unlock struct {
	Passphrase []byte
}

// Shutdown stops the engine without writing to the stream.
type Shutdown struct{}

func (Add) isMessage()            {}
func (AddConstrained) isMessage() {}
func (Remove) isMessage()         {}
func (RemoveAll) isMessage()      {}
func (List) isMessage()           {}
func (Sign) isMessage()           {}
func (Lock) isMessage()           {}
func (Unlock) isMessage()         {}
func (Shutdown) isMessage()       {}

// String output never includes private key material or passphrases.

func (m Add) String() string {
	return fmt.Sprintf("add(type=%s comment=%q)", m.KeyType, m.Comment)
}

func (m AddConstrained) String() string {
	return fmt.Sprintf("add_constrained(type=%s comment=%q constraints=%d bytes)", m.KeyType, m.Comment, len(m.Constraints))
}

func (m Remove) String() string {
	return fmt.Sprintf("remove(blob=%d bytes)", len(m.KeyBlob))
}

func (RemoveAll) String() string { return "remove_all" }

func (List) String() string { return "list" }

func (m Sign) String() string {
	return fmt.Sprintf("sign(blob=%d bytes data=%d bytes flags=%#x)", len(m.KeyBlob), len(m.Data), m.Flags)
}

func (Lock) String() string { return "lock" }

func (Unlock) String() string { return "unlock" }

func (Shutdown) String() string { return "shutdown" }

// packetFor maps a non-Shutdown message to its request packet.
func packetFor(msg Message) (packet.Packet, error) {
	var b packet.Builder
	switch m := msg.(type) {
	case Add:
		b = packet.AddIdentity{KeyType: m.KeyType, KeyBlob: m.KeyBlob, Comment: m.Comment}
	case AddConstrained:
		b = packet.AddIdentityConstrained{KeyType: m.KeyType, KeyBlob: m.KeyBlob, Comment: m.Comment, Constraints: m.Constraints}
	case Remove:
		b = packet.RemoveIdentity{KeyBlob: m.KeyBlob}
	case RemoveAll:
		b = packet.RemoveAll{}
	case List:
		b = packet.RequestIdentities{}
	case Sign:
		b = packet.SignRequest{KeyBlob: m.KeyBlob, Data: m.Data, Flags: m.Flags}
	case Lock:
		b = packet.Lock{Passphrase: m.Passphrase}
	case Unlock:
		b = packet.Unlock{Passphrase: m.Passphrase}
	default:
		return packet.Packet{}, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	return b.Packet()
}
