// Package agenttest serves the ssh-agent protocol from memory for tests.
package agenttest

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/protocol/packet"
	"github.com/danmuck/agentctl/internal/protocol/wire"
	"golang.org/x/crypto/ssh"
)

// Key is one identity held by the fake agent.
type Key struct {
	Blob        []byte
	Comment     string
	Constraints []agent.Constraint
	private     ed25519.PrivateKey
}

// Agent keeps ed25519 identities in memory and answers requests in order.
type Agent struct {
	mu         sync.Mutex
	keys       []Key
	locked     bool
	passphrase []byte
	requests   []packet.Packet
	limits     packet.Limits
}

func New() *Agent {
	return &Agent{limits: packet.DefaultLimits()}
}

// Dial returns the client end of an in-memory connection served by a.
func (a *Agent) Dial(t testing.TB) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Serve(server)
	}()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
		<-done
	})
	return client
}

// Serve answers requests on rw until the peer closes it.
func (a *Agent) Serve(rw io.ReadWriter) error {
	for {
		req, err := packet.ReadPacket(rw, a.limits)
		if err != nil {
			if errors.Is(err, packet.ErrStreamClosed) {
				return nil
			}
			return err
		}
		if err := packet.WritePacket(rw, a.Handle(req), a.limits); err != nil {
			return err
		}
	}
}

func (a *Agent) Requests() []packet.Packet {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]packet.Packet, len(a.requests))
	copy(out, a.requests)
	return out
}

func (a *Agent) Keys() []Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Key, len(a.keys))
	copy(out, a.keys)
	return out
}

func (a *Agent) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// Preload stores a fresh ed25519 identity without a request on the wire
// and returns its public key blob.
func (a *Agent) Preload(t testing.TB, comment string) []byte {
	t.Helper()
	priv, blob := NewEd25519(t)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, Key{Blob: blob, Comment: comment, private: priv})
	return blob
}

// Handle answers one request packet.
func (a *Agent) Handle(req packet.Packet) packet.Packet {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)

	body := req.Body()
	switch req.Kind() {
	case packet.KindRequestIdentities:
		return a.identities()
	case packet.KindAddIdentity, packet.KindAddIdConstrained:
		return a.add(body, req.Kind() == packet.KindAddIdConstrained)
	case packet.KindRemoveIdentity:
		return a.remove(body)
	case packet.KindRemoveAllIdentities:
		a.keys = nil
		return success()
	case packet.KindSignRequest:
		return a.sign(body)
	case packet.KindLock:
		return a.lock(body)
	case packet.KindUnlock:
		return a.unlock(body)
	default:
		return failure()
	}
}

func (a *Agent) identities() packet.Packet {
	keys := a.keys
	if a.locked {
		keys = nil
	}
	payload := wire.AppendUint32([]byte{byte(packet.KindIdentitiesAnswer)}, uint32(len(keys)))
	for _, k := range keys {
		payload, _ = wire.AppendStrings(payload, k.Blob, []byte(k.Comment))
	}
	return packet.New(packet.KindIdentitiesAnswer, payload)
}

func (a *Agent) add(body []byte, constrained bool) packet.Packet {
	if a.locked {
		return failure()
	}
	keyType, rest, err := wire.ReadString(body)
	if err != nil || string(keyType) != agent.KeyTypeEd25519 {
		return failure()
	}
	blob, rest, err := wire.ReadString(rest)
	if err != nil {
		return failure()
	}
	comment, rest, err := wire.ReadString(rest)
	if err != nil {
		return failure()
	}
	var constraints []agent.Constraint
	if constrained {
		constraints, err = agent.ParseConstraints(rest)
		if err != nil {
			return failure()
		}
	} else if len(rest) != 0 {
		return failure()
	}

	pubBytes, privRest, err := wire.ReadString(blob)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return failure()
	}
	privBytes, _, err := wire.ReadString(privRest)
	if err != nil || len(privBytes) != ed25519.PrivateKeySize {
		return failure()
	}
	pub, err := ssh.NewPublicKey(ed25519.PublicKey(bytes.Clone(pubBytes)))
	if err != nil {
		return failure()
	}

	key := Key{
		Blob:        pub.Marshal(),
		Comment:     string(comment),
		Constraints: constraints,
		private:     ed25519.PrivateKey(bytes.Clone(privBytes)),
	}
	if i := a.find(key.Blob); i >= 0 {
		a.keys[i] = key
	} else {
		a.keys = append(a.keys, key)
	}
	return success()
}

func (a *Agent) remove(body []byte) packet.Packet {
	if a.locked {
		return failure()
	}
	blob, _, err := wire.ReadString(body)
	if err != nil {
		return failure()
	}
	i := a.find(blob)
	if i < 0 {
		return failure()
	}
	a.keys = append(a.keys[:i], a.keys[i+1:]...)
	return success()
}

func (a *Agent) sign(body []byte) packet.Packet {
	if a.locked {
		return failure()
	}
	blob, rest, err := wire.ReadString(body)
	if err != nil {
		return failure()
	}
	data, rest, err := wire.ReadString(rest)
	if err != nil {
		return failure()
	}
	if _, _, err := wire.ReadUint32(rest); err != nil {
		return failure()
	}
	i := a.find(blob)
	if i < 0 {
		return failure()
	}
	sig := ssh.Signature{
		Format: ssh.KeyAlgoED25519,
		Blob:   ed25519.Sign(a.keys[i].private, data),
	}
	payload, err := wire.AppendString([]byte{byte(packet.KindSignResponse)}, ssh.Marshal(sig))
	if err != nil {
		return failure()
	}
	return packet.New(packet.KindSignResponse, payload)
}

func (a *Agent) lock(body []byte) packet.Packet {
	passphrase, _, err := wire.ReadString(body)
	if err != nil || a.locked {
		return failure()
	}
	a.locked = true
	a.passphrase = bytes.Clone(passphrase)
	return success()
}

func (a *Agent) unlock(body []byte) packet.Packet {
	passphrase, _, err := wire.ReadString(body)
	if err != nil || !a.locked || !bytes.Equal(passphrase, a.passphrase) {
		return failure()
	}
	a.locked = false
	a.passphrase = nil
	return success()
}

func (a *Agent) find(blob []byte) int {
	for i, k := range a.keys {
		if bytes.Equal(k.Blob, blob) {
			return i
		}
	}
	return -1
}

func success() packet.Packet {
	return packet.New(packet.KindSuccess, []byte{byte(packet.KindSuccess)})
}

func failure() packet.Packet {
	return packet.New(packet.KindFailure, []byte{byte(packet.KindFailure)})
}

// NewEd25519 generates a key and returns it with its public key blob.
func NewEd25519(t testing.TB) (ed25519.PrivateKey, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	pub, err := ssh.NewPublicKey(priv.Public())
	if err != nil {
		t.Fatalf("ssh public key: %v", err)
	}
	return priv, pub.Marshal()
}
