package agent

import (
	"fmt"
	"strings"

	"github.com/danmuck/agentctl/internal/protocol/packet"
	"github.com/danmuck/agentctl/internal/protocol/wire"
	"golang.org/x/crypto/ssh"
)

// Response is a decoded agent reply.
type Response interface {
	Kind() packet.Kind
}

type Success struct{}

type Failure struct{}

type ExtensionFailure struct{}

type IdentitiesAnswer struct {
	Identities []Identity
}

type SignResponse struct {
	Signature []byte
}

func (Success) Kind() packet.Kind          { return packet.KindSuccess }
func (Failure) Kind() packet.Kind          { return packet.KindFailure }
func (ExtensionFailure) Kind() packet.Kind { return packet.KindExtensionFailure }
func (IdentitiesAnswer) Kind() packet.Kind { return packet.KindIdentitiesAnswer }
func (SignResponse) Kind() packet.Kind     { return packet.KindSignResponse }

// Identity is one public key the agent holds.
type Identity struct {
	KeyBlob []byte
	Comment string
}

func (id Identity) PublicKey() (ssh.PublicKey, error) {
	return ssh.ParsePublicKey(id.KeyBlob)
}

// AuthorizedKey renders the identity as an authorized_keys line.
func (id Identity) AuthorizedKey() (string, error) {
	pub, err := id.PublicKey()
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if id.Comment != "" {
		line += " " + id.Comment
	}
	return line, nil
}

// ParseSignature decodes the signature blob into format and raw bytes.
func (r SignResponse) ParseSignature() (*ssh.Signature, error) {
	var sig ssh.Signature
	if err := ssh.Unmarshal(r.Signature, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// ParseResponse decodes one response payload as delivered on Responses.
func ParseResponse(payload []byte) (Response, error) {
	if len(payload) == 0 {
		return nil, packet.ErrEmptyPacket
	}
	kind := packet.Kind(payload[0])
	body := payload[1:]
	switch kind {
	case packet.KindSuccess:
		return Success{}, nil
	case packet.KindFailure:
		return Failure{}, nil
	case packet.KindExtensionFailure:
		return ExtensionFailure{}, nil
	case packet.KindIdentitiesAnswer:
		return parseIdentitiesAnswer(body)
	case packet.KindSignResponse:
		sig, _, err := wire.ReadString(body)
		if err != nil {
			return nil, fmt.Errorf("sign response: %w", err)
		}
		return SignResponse{Signature: sig}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResponse, kind)
	}
}

func parseIdentitiesAnswer(body []byte) (IdentitiesAnswer, error) {
	count, rest, err := wire.ReadUint32(body)
	if err != nil {
		return IdentitiesAnswer{}, fmt.Errorf("identities answer: %w", err)
	}
	// each identity is at least two empty strings
	capHint := int(min(uint64(count), uint64(len(rest)/8)))
	ids := make([]Identity, 0, capHint)
	for i := uint32(0); i < count; i++ {
		var blob, comment []byte
		blob, rest, err = wire.ReadString(rest)
		if err != nil {
			return IdentitiesAnswer{}, fmt.Errorf("identities answer[%d] key: %w", i, err)
		}
		comment, rest, err = wire.ReadString(rest)
		if err != nil {
			return IdentitiesAnswer{}, fmt.Errorf("identities answer[%d] comment: %w", i, err)
		}
		ids = append(ids, Identity{KeyBlob: blob, Comment: string(comment)})
	}
	return IdentitiesAnswer{Identities: ids}, nil
}
