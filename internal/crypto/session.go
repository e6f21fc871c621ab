package crypto

// Session is the key material of one open store: the derived MasterKey for
// the current format and the passphrase for the legacy format.
type Session struct {
	Key        *MasterKey
	passphrase []byte
}

// NewSession takes ownership of key and keeps a private copy of passphrase.
func NewSession(key *MasterKey, passphrase []byte) *Session {
	return &Session{Key: key, passphrase: append([]byte(nil), passphrase...)}
}

// Passphrase returns the session passphrase. Callers must not retain it.
func (s *Session) Passphrase() []byte {
	return s.passphrase
}

// Encrypt seals plaintext in the current format.
func (s *Session) Encrypt(plaintext string) (string, error) {
	return Encrypt(plaintext, s.Key)
}

// Decrypt opens an envelope of either format.
func (s *Session) Decrypt(encoded string) (string, error) {
	return Decrypt(encoded, s.Key, s.passphrase)
}

// Close zeroes the key and passphrase.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.Key.Destroy()
	Zero(s.passphrase)
	s.passphrase = nil
}
