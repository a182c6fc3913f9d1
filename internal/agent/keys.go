package agent

import (
	"crypto/ed25519"
	"fmt"

	"github.com/danmuck/agentctl/internal/protocol/wire"
	"golang.org/x/crypto/ssh"
)

// KeyTypeEd25519 is the only private key type this client can encode.
const KeyTypeEd25519 = ssh.KeyAlgoED25519

// EncodePrivateKey turns a parsed private key into the key type and key blob
// fields of an add request. ed25519 keys encode as string(public)
// string(private||public).
func EncodePrivateKey(key any) (keyType string, blob []byte, err error) {
	var priv ed25519.PrivateKey
	switch k := key.(type) {
	case ed25519.PrivateKey:
		priv = k
	case *ed25519.PrivateKey:
		priv = *k
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return "", nil, fmt.Errorf("%w: ed25519 key is %d bytes", ErrUnsupportedKey, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	blob, err = wire.AppendStrings(nil, pub, priv)
	if err != nil {
		return "", nil, err
	}
	return KeyTypeEd25519, blob, nil
}

// PublicKeyBlob is the wire form the agent uses to name a key in remove and
// sign requests.
func PublicKeyBlob(pub ssh.PublicKey) []byte {
	return pub.Marshal()
}
