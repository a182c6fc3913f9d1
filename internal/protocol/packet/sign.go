package packet

// Sign request flags.
const (
	SignFlagRSASHA256 uint32 = 2
	SignFlagRSASHA512 uint32 = 4
)

// SignRequest asks the agent to sign Data with the key matching KeyBlob.
type SignRequest struct {
	KeyBlob []byte
	Data    []byte
	Flags   uint32
}

func (s SignRequest) Packet() (Packet, error) {
	w := newPayload(KindSignRequest, stringsLen(s.KeyBlob, s.Data)+4)
	w.str("key blob", s.KeyBlob)
	w.str("data", s.Data)
	w.u32(s.Flags)
	return w.packet()
}
