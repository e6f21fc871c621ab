package crypto

import (
	"unicode/utf8"

	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
)

// Decrypt opens an envelope of any supported format.
//
// Current envelopes need key; legacy envelopes need passphrase. Errors wrap
// ErrFormat for unparseable input or non-UTF-8 plaintext and ErrAuth when
// the ciphertext does not authenticate.
func Decrypt(encoded string, key *MasterKey, passphrase []byte) (string, error) {
	env, err := ParseEnvelope(encoded)
	if err != nil {
		return "", err
	}

	var plain []byte
	switch e := env.(type) {
	case CurrentEnvelope:
		plain, err = openCurrent(e, key)
	case LegacyEnvelope:
		plain, err = openLegacy(e, passphrase)
	default:
		return "", kerrors.ErrUnknownEnvelope
	}
	if err != nil {
		return "", err
	}
	defer Zero(plain)

	if !utf8.Valid(plain) {
		return "", kerrors.ErrCorruptPlaintext
	}
	return string(plain), nil
}
