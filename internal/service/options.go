package service

import (
	"time"

	"github.com/atinyakov/tinysecrets/internal/crypto"
	"go.uber.org/zap"
)

type options struct {
	log        *zap.Logger
	kdf        crypto.KDFParams
	workFactor int
	now        func() time.Time
}

// Option configures a Store at Init or Open.
type Option func(*options)

// WithLogger sets the logger used for mutation and migration events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithKDF overrides the argon2id parameters for newly created or upgraded
// stores. Existing stores always use the parameters stored in their metadata.
func WithKDF(p crypto.KDFParams) Option {
	return func(o *options) { o.kdf = p }
}

// WithLegacyWorkFactor sets the scrypt work factor of new verification tokens.
func WithLegacyWorkFactor(n int) Option {
	return func(o *options) { o.workFactor = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		log:        zap.NewNop(),
		kdf:        crypto.DefaultKDF,
		workFactor: crypto.DefaultLegacyWorkFactor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
