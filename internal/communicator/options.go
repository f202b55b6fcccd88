package communicator

import (
	"github.com/rs/zerolog"

	"disgb/internal/logger"
	"disgb/internal/metrics"
)

// Options tune a communicator and the helpers built around it
type Options struct {
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	SendHighWater int
}

type Option func(*Options)

func WithLogger(l zerolog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithSendHighWater bounds the per-peer outbound queue before sends report ErrWouldBlock
func WithSendHighWater(hwm int) Option {
	return func(opts *Options) {
		opts.SendHighWater = hwm
	}
}

func newOptions(options ...Option) *Options {
	opts := &Options{
		Logger:        logger.GetLogger("communicator"),
		SendHighWater: 1000,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return opts
}
