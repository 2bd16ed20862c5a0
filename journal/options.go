package journal

import "time"

// Option configures a Journal.
type Option func(*config)

type config struct {
	lockTimeout      time.Duration
	subscriberBuffer int
	readBatch        int
}

func parseConfig(opts []Option) config {
	c := config{
		lockTimeout:      1 * time.Second,
		subscriberBuffer: 16,
		readBatch:        1024,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLockTimeout bounds how long Open waits for the database file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) {
		c.lockTimeout = d
	}
}

func WithSubscriberBuffer(n int) Option {
	return func(c *config) {
		c.subscriberBuffer = n
	}
}

// WithReadBatch sets how many entries are read per bbolt read transaction.
func WithReadBatch(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readBatch = n
		}
	}
}
