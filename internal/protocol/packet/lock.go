package packet

type Lock struct {
	Passphrase []byte
}

func (l Lock) Packet() (Packet, error) {
	w := newPayload(KindLock, stringsLen(l.Passphrase))
	w.str("passphrase", l.Passphrase)
	return w.packet()
}

type Unlock struct {
	Passphrase []byte
}

func (u Unlock) Packet() (Packet, error) {
	w := newPayload(KindUnlock, stringsLen(u.Passphrase))
	w.str("passphrase", u.Passphrase)
	return w.packet()
}
