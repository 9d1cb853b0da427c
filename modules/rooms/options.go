package rooms

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Options holds room policy configuration shared by every room the
// registry creates.
type Options struct {
	// HistoryLimit is the chat history capacity per room (FIFO eviction).
	HistoryLimit int

	// GracePeriod is how long a disconnected member's seat is held open
	// before the departure becomes permanent. Zero removes immediately.
	GracePeriod time.Duration

	// MaxParticipants caps room membership. Zero means unlimited.
	MaxParticipants int

	// BcryptCost is the cost used when hashing room passwords.
	BcryptCost int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		HistoryLimit:    100,
		GracePeriod:     30 * time.Second,
		MaxParticipants: 0,
		BcryptCost:      bcrypt.DefaultCost,
	}
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithHistoryLimit sets the per-room chat history capacity.
func WithHistoryLimit(n int) Option {
	return func(o *Options) {
		o.HistoryLimit = n
	}
}

// WithGracePeriod sets the reconnection grace window.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		o.GracePeriod = d
	}
}

// WithMaxParticipants caps room membership.
func WithMaxParticipants(n int) Option {
	return func(o *Options) {
		o.MaxParticipants = n
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(o *Options) {
		o.BcryptCost = cost
	}
}

// NewOptions builds Options from the defaults plus the given overrides.
func NewOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
