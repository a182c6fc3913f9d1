package packet

import "fmt"

// Kind is the one-byte message type that leads every payload.
type Kind uint8

// Message numbers from the ssh-agent protocol draft.
const (
	KindFailure             Kind = 5
	KindSuccess             Kind = 6
	KindRequestIdentities   Kind = 11
	KindIdentitiesAnswer    Kind = 12
	KindSignRequest         Kind = 13
	KindSignResponse        Kind = 14
	KindAddIdentity         Kind = 17
	KindRemoveIdentity      Kind = 18
	KindRemoveAllIdentities Kind = 19
	KindLock                Kind = 22
	KindUnlock              Kind = 23
	KindAddIdConstrained    Kind = 25
	KindExtensionFailure    Kind = 28
)

var kindNames = map[Kind]string{
	KindFailure:             "failure",
	KindSuccess:             "success",
	KindRequestIdentities:   "request_identities",
	KindIdentitiesAnswer:    "identities_answer",
	KindSignRequest:         "sign_request",
	KindSignResponse:        "sign_response",
	KindAddIdentity:         "add_identity",
	KindRemoveIdentity:      "remove_identity",
	KindRemoveAllIdentities: "remove_all_identities",
	KindLock:                "lock",
	KindUnlock:              "unlock",
	KindAddIdConstrained:    "add_id_constrained",
	KindExtensionFailure:    "extension_failure",
}

// KindFromByte reports the kind for b and whether it is part of the known set.
func KindFromByte(b byte) (Kind, bool) {
	k := Kind(b)
	_, ok := kindNames[k]
	return k, ok
}

// IsResponse reports whether an agent may send k to a client.
func (k Kind) IsResponse() bool {
	switch k {
	case KindFailure, KindSuccess, KindIdentitiesAnswer, KindSignResponse, KindExtensionFailure:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}
