package crypto

// VerificationPlaintext is the known value sealed into every verification token.
const VerificationPlaintext = "tinysecrets-verification-v1"

// NewVerificationToken seals VerificationPlaintext with the legacy scheme.
// The token stays in the legacy format so bundles exported by older builds
// keep verifying.
func NewVerificationToken(passphrase []byte, workFactor int) (string, error) {
	return EncryptLegacy(VerificationPlaintext, passphrase, workFactor)
}

// Verify reports whether token was produced under passphrase. Any failure,
// including a malformed token, is a plain false.
func Verify(passphrase []byte, token string) bool {
	env, err := ParseEnvelope(token)
	if err != nil {
		return false
	}
	legacy, ok := env.(LegacyEnvelope)
	if !ok {
		return false
	}
	plain, err := openLegacy(legacy, passphrase)
	if err != nil {
		return false
	}
	defer Zero(plain)
	return string(plain) == VerificationPlaintext
}
