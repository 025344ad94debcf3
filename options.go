package di

import "github.com/rs/zerolog"

// defaultCascadeRounds bounds how many rounds an invalidation cascade may
// take to settle before the container reports CascadeNotConvergedError.
const defaultCascadeRounds = 10

// Option configures a Container at creation time.
type Option func(*Container)

// WithLogger attaches a structured logger. The container logs construction,
// invalidation and scope lifecycle at debug level; the default logger is a
// no-op.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithCascadeRounds overrides the invalidation cascade round budget.
func WithCascadeRounds(rounds int) Option {
	return func(c *Container) {
		if rounds > 0 {
			c.cascadeRounds = rounds
		}
	}
}

// WithBus attaches an externally owned event bus instead of a private one.
// The container will not close a bus it does not own.
func WithBus(bus *Bus) Option {
	return func(c *Container) {
		c.bus = bus
		c.ownsBus = false
	}
}
