package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"

	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope version tags. The tag alone decides how the rest is parsed.
const (
	TagLegacy  byte = 0x01
	TagCurrent byte = 0x02
)

// legacyHeader starts every age file. Envelopes written before version
// tagging existed are raw age files with no tag byte in front.
var legacyHeader = []byte("age-encryption.org/")

// Envelope is the parsed form of a stored value. It is a closed union:
// CurrentEnvelope and LegacyEnvelope are the only implementations.
type Envelope interface {
	// Tag returns the format version byte.
	Tag() byte
	// Encode returns the base64 text form stored on disk.
	Encode() string

	sealed()
}

// CurrentEnvelope is a ChaCha20-Poly1305 ciphertext under the MasterKey.
type CurrentEnvelope struct {
	Nonce [chacha20poly1305.NonceSize]byte
	// Ciphertext includes the trailing authentication tag.
	Ciphertext []byte
}

// Tag implements Envelope.
func (CurrentEnvelope) Tag() byte { return TagCurrent }

// Encode implements Envelope.
func (e CurrentEnvelope) Encode() string {
	raw := make([]byte, 0, 1+len(e.Nonce)+len(e.Ciphertext))
	raw = append(raw, TagCurrent)
	raw = append(raw, e.Nonce[:]...)
	raw = append(raw, e.Ciphertext...)
	return base64.StdEncoding.EncodeToString(raw)
}

func (CurrentEnvelope) sealed() {}

// LegacyEnvelope is an age file encrypted to a scrypt passphrase recipient.
type LegacyEnvelope struct {
	// Blob is the complete age file.
	Blob []byte
	// Untagged marks an envelope recognised by its age header alone.
	Untagged bool
}

// Tag implements Envelope.
func (LegacyEnvelope) Tag() byte { return TagLegacy }

// Encode implements Envelope. Untagged envelopes keep their original form.
func (e LegacyEnvelope) Encode() string {
	if e.Untagged {
		return base64.StdEncoding.EncodeToString(e.Blob)
	}
	raw := make([]byte, 0, 1+len(e.Blob))
	raw = append(raw, TagLegacy)
	raw = append(raw, e.Blob...)
	return base64.StdEncoding.EncodeToString(raw)
}

func (LegacyEnvelope) sealed() {}

// ParseEnvelope decodes the stored text form of an envelope.
//
// Dispatch is on the tag byte first. Only when the tag is unknown is the
// payload checked for a bare age header; anything else is ErrUnknownEnvelope.
func ParseEnvelope(encoded string) (Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", kerrors.ErrMalformedEnvelope, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", kerrors.ErrMalformedEnvelope)
	}

	switch raw[0] {
	case TagCurrent:
		body := raw[1:]
		if len(body) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
			return nil, fmt.Errorf("%w: current envelope too short", kerrors.ErrMalformedEnvelope)
		}
		var env CurrentEnvelope
		copy(env.Nonce[:], body[:chacha20poly1305.NonceSize])
		env.Ciphertext = body[chacha20poly1305.NonceSize:]
		return env, nil
	case TagLegacy:
		if len(raw) == 1 {
			return nil, fmt.Errorf("%w: legacy envelope has no payload", kerrors.ErrMalformedEnvelope)
		}
		return LegacyEnvelope{Blob: raw[1:]}, nil
	}

	if bytes.HasPrefix(raw, legacyHeader) {
		return LegacyEnvelope{Blob: raw, Untagged: true}, nil
	}
	return nil, fmt.Errorf("%w: tag 0x%02x", kerrors.ErrUnknownEnvelope, raw[0])
}

// IsCurrent reports whether encoded parses as a current-format envelope.
func IsCurrent(encoded string) (bool, error) {
	env, err := ParseEnvelope(encoded)
	if err != nil {
		return false, err
	}
	_, ok := env.(CurrentEnvelope)
	return ok, nil
}
