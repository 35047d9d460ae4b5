// Package config holds the library's tuning knobs as a value scoped to
// a single Context, following aistore's global-config-object pattern
// (cmn.Config/cmn.GCO) but instance-scoped rather than process-global:
// this module's own test suite hosts many simulated ranks, and in some
// cases many Contexts, inside a single process.
package config

const (
	// DefaultBufSize is the pinned backend buffer capacity attached on
	// open for write-like modes.
	DefaultBufSize int64 = 512 << 20

	// DefaultNReqs is the size of the pending-request slot array on a
	// File.
	DefaultNReqs = 512

	// DefaultAggFactor is the default sub-group size when aggregation is
	// enabled.
	DefaultAggFactor = 5
)

// DefaultWriterAffinity pins the writer thread to cores {5, 11} by
// default; exposed as configuration rather than hard-coded so callers
// can retune it for their own hardware.
var DefaultWriterAffinity = []int{5, 11}

type LogLevel int

const (
	LogWarn LogLevel = iota
	LogInfo
	LogDebug
)

// Config is immutable after Init, mirroring Context's own immutability
// rule.
type Config struct {
	BufSize        int64
	NReqs          int
	AggFactor      int
	WriterAffinity []int
	CompressBuffer bool
	LogLevel       LogLevel
}

// Option mutates a Config under construction; used by smiol.Init.
type Option func(*Config)

func WithBufSize(n int64) Option    { return func(c *Config) { c.BufSize = n } }
func WithNReqs(n int) Option        { return func(c *Config) { c.NReqs = n } }
func WithAggFactor(n int) Option    { return func(c *Config) { c.AggFactor = n } }
func WithCompression(b bool) Option { return func(c *Config) { c.CompressBuffer = b } }
func WithLogLevel(l LogLevel) Option {
	return func(c *Config) { c.LogLevel = l }
}
func WithWriterAffinity(cores []int) Option {
	return func(c *Config) {
		c.WriterAffinity = append([]int(nil), cores...)
	}
}

// New builds a Config from defaults plus any overriding options.
func New(opts ...Option) *Config {
	c := &Config{
		BufSize:        DefaultBufSize,
		NReqs:          DefaultNReqs,
		AggFactor:      DefaultAggFactor,
		WriterAffinity: append([]int(nil), DefaultWriterAffinity...),
		LogLevel:       LogWarn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
