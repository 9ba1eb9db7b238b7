package udpconn

import "time"

const (
	// DefaultAcceptPoll is the polling interval a Listener uses to sweep
	// for dead connections (see dial.go's janitor).
	DefaultAcceptPoll = 1 * time.Second
	// DefaultIdleTimeout is the liveness window dead-detection compares
	// the current tick against.
	DefaultIdleTimeout = 5 * time.Minute
)

// Option defines a functional option for NewConn, directly modeled on the
// teacher's Option func(*Config) pattern in options.go.
type Option func(*Config)

// Config holds the construction-time settings for a Conn. Zero value plus
// defaultConfig() yields sane defaults; callers shape it through
// functional options passed to NewConn.
type Config struct {
	pool                       BufferPool
	mtu                        uint16
	ownsTransport              bool
	negotiationCachingDisabled bool
	exceptionHandler           func(error) bool
	appRegistration            ApplicationRegistration
	metrics                    Metrics

	autoKeepAliveInterval time.Duration
	autoKeepAliveExpire   time.Duration
}

// defaultConfig returns a Config with library defaults: a DefaultPool sized
// to DefaultMTU, MTU 1400, no owned transport, negotiation caching enabled,
// no auto keep-alive.
func defaultConfig() *Config {
	return &Config{
		pool:    NewDefaultPool(DefaultMTU),
		mtu:     DefaultMTU,
		metrics: NewDefaultMetrics(),
	}
}

// applyConfig builds a runtime config by applying the given options on top
// of defaults.
func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithMTU overrides the default 1400-byte MTU.
func WithMTU(mtu uint16) Option {
	return func(c *Config) {
		if mtu > DataHeaderSize {
			c.mtu = mtu
		}
	}
}

// WithPool overrides the default sync.Pool-backed BufferPool.
func WithPool(pool BufferPool) Option {
	return func(c *Config) {
		if pool != nil {
			c.pool = pool
		}
	}
}

// WithOwnsTransport marks the connection as owning its transport façade:
// Dispose will also dispose the façade, and the façade's exception handler
// is wired to the connection's own exception producer (spec.md §4.6).
func WithOwnsTransport() Option {
	return func(c *Config) { c.ownsTransport = true }
}

// WithNegotiationCachingDisabled disables the pre-negotiation packet cache
// from construction (spec.md §4.4 rule 1 — "once disabled it never
// re-enables").
func WithNegotiationCachingDisabled() Option {
	return func(c *Config) { c.negotiationCachingDisabled = true }
}

// WithExceptionHandler installs the handler that receives
// asynchronously-surfaced transport errors.
func WithExceptionHandler(h func(error) bool) Option {
	return func(c *Config) { c.exceptionHandler = h }
}

// WithApplicationRegistration attaches a scoped handle released on Failed,
// Dead, or Dispose.
func WithApplicationRegistration(reg ApplicationRegistration) Option {
	return func(c *Config) { c.appRegistration = reg }
}

// WithMetrics sets a custom metrics implementation for tracking connection
// statistics. If not provided, a default atomic-counter implementation is
// used, matching the teacher's WithMetrics.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithAutoKeepAlive installs a DefaultKeepAlive automatically the first
// time the connection reaches Connected, pinging every interval and
// checking liveness against expire.
func WithAutoKeepAlive(interval, expire time.Duration) Option {
	return func(c *Config) {
		if interval > 0 && expire > 0 {
			c.autoKeepAliveInterval = interval
			c.autoKeepAliveExpire = expire
		}
	}
}
