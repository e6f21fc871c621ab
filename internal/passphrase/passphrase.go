// Package passphrase obtains the store passphrase from the environment,
// the OS keychain or an interactive prompt, in that order.
package passphrase

import (
	"bytes"
	"errors"
	"os"
)

// EnvVar holds the passphrase for automation and CI.
const EnvVar = "TINYSECRETS_PASSPHRASE"

// MinLength is the shortest passphrase accepted for a new store.
const MinLength = 8

var (
	// ErrTooShort indicates a new passphrase below MinLength.
	ErrTooShort = errors.New("passphrase must be at least 8 characters")
	// ErrMismatch indicates the confirmation differed from the passphrase.
	ErrMismatch = errors.New("passphrases do not match")
	// ErrEmpty indicates an empty passphrase was entered.
	ErrEmpty = errors.New("passphrase cannot be empty")
)

// Source tells where a passphrase came from.
type Source int

const (
	SourceEnv Source = iota + 1
	SourceKeychain
	SourcePrompt
)

func (s Source) String() string {
	switch s {
	case SourceEnv:
		return EnvVar
	case SourceKeychain:
		return "keychain"
	case SourcePrompt:
		return "prompt"
	}
	return "unknown"
}

// Store caches a passphrase between invocations.
type Store interface {
	Get() ([]byte, bool, error)
	Set(pass []byte) error
	Delete() (bool, error)
}

// Prompter asks the user for input.
type Prompter interface {
	ReadPassword(prompt string) ([]byte, error)
	Confirm(question string) (bool, error)
}

// Resolver looks up passphrases. A nil Keychain skips the keychain step.
type Resolver struct {
	Getenv   func(string) string
	Keychain Store
	Prompter Prompter

	// KeychainErr is set when the keychain lookup failed and the resolver
	// fell through to the prompt.
	KeychainErr error
}

// NewResolver uses the process environment, the OS keychain and the terminal.
func NewResolver() *Resolver {
	return &Resolver{
		Getenv:   os.Getenv,
		Keychain: DefaultKeychain(),
		Prompter: NewTerminal(),
	}
}

// Existing returns the passphrase of an existing store: EnvVar if set, then
// the keychain, then a prompt.
func (r *Resolver) Existing() ([]byte, Source, error) {
	if pass := r.getenv(); pass != "" {
		return []byte(pass), SourceEnv, nil
	}

	if r.Keychain != nil {
		pass, found, err := r.Keychain.Get()
		switch {
		case err != nil:
			r.KeychainErr = err
		case found:
			return pass, SourceKeychain, nil
		}
	}

	pass, err := r.Prompter.ReadPassword("Passphrase: ")
	if err != nil {
		return nil, 0, err
	}
	if len(pass) == 0 {
		return nil, 0, ErrEmpty
	}
	return pass, SourcePrompt, nil
}

// New returns the passphrase for a new store: EnvVar if set, else a prompt
// with confirmation. Both paths enforce MinLength.
func (r *Resolver) New() ([]byte, Source, error) {
	if pass := r.getenv(); pass != "" {
		if len(pass) < MinLength {
			return nil, 0, ErrTooShort
		}
		return []byte(pass), SourceEnv, nil
	}

	first, err := r.Prompter.ReadPassword("Enter passphrase: ")
	if err != nil {
		return nil, 0, err
	}
	second, err := r.Prompter.ReadPassword("Confirm passphrase: ")
	if err != nil {
		return nil, 0, err
	}
	defer clear(second)

	if !bytes.Equal(first, second) {
		clear(first)
		return nil, 0, ErrMismatch
	}
	if len(first) < MinLength {
		clear(first)
		return nil, 0, ErrTooShort
	}
	return first, SourcePrompt, nil
}

// OfferSave asks whether to cache a prompted passphrase in the keychain and
// stores it on yes. Returns whether it was saved.
func (r *Resolver) OfferSave(pass []byte, question string) (bool, error) {
	if r.Keychain == nil {
		return false, nil
	}
	ok, err := r.Prompter.Confirm(question)
	if err != nil || !ok {
		return false, err
	}
	if err := r.Keychain.Set(pass); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) getenv() string {
	if r.Getenv == nil {
		return ""
	}
	return r.Getenv(EnvVar)
}
