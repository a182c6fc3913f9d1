package packet

// AddIdentity asks the agent to hold a private key.
type AddIdentity struct {
	KeyType []byte
	KeyBlob []byte
	Comment []byte
}

func (a AddIdentity) Packet() (Packet, error) {
	w := newPayload(KindAddIdentity, stringsLen(a.KeyType, a.KeyBlob, a.Comment))
	w.str("key type", a.KeyType)
	w.str("key blob", a.KeyBlob)
	w.str("comment", a.Comment)
	return w.packet()
}

// AddIdentityConstrained is AddIdentity followed by encoded constraints.
// Constraints self-delimit, so they are appended without a length prefix.
type AddIdentityConstrained struct {
	KeyType     []byte
	KeyBlob     []byte
	Comment     []byte
	Constraints []byte
}

func (a AddIdentityConstrained) Packet() (Packet, error) {
	w := newPayload(KindAddIdConstrained, stringsLen(a.KeyType, a.KeyBlob, a.Comment)+len(a.Constraints))
	w.str("key type", a.KeyType)
	w.str("key blob", a.KeyBlob)
	w.str("comment", a.Comment)
	w.raw(a.Constraints)
	return w.packet()
}

type RemoveIdentity struct {
	KeyBlob []byte
}

func (r RemoveIdentity) Packet() (Packet, error) {
	w := newPayload(KindRemoveIdentity, stringsLen(r.KeyBlob))
	w.str("key blob", r.KeyBlob)
	return w.packet()
}

type RemoveAll struct{}

func (RemoveAll) Packet() (Packet, error) {
	return newPayload(KindRemoveAllIdentities, 0).packet()
}

type RequestIdentities struct{}

func (RequestIdentities) Packet() (Packet, error) {
	return newPayload(KindRequestIdentities, 0).packet()
}
