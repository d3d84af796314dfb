package idtrack

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/idtrack/cache"
	"github.com/hupe1980/idtrack/extract"
	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/resource"
)

// DefaultThreshold is the Euclidean distance below which a stored embedding
// counts as a match. The comparison is strict: a distance exactly equal to
// the threshold does not match.
const DefaultThreshold float32 = 0.6

type options struct {
	threshold    float32
	dimension    int
	scanShards   int
	logger       *Logger
	metrics      MetricsCollector
	extractor    extract.Extractor
	controller   *resource.Controller
	cacheOptions []func(o *cache.Options)
}

// Option configures Tracker constructor behavior.
type Option func(*options)

// WithThreshold sets the match distance threshold.
func WithThreshold(threshold float32) Option {
	return func(o *options) {
		o.threshold = threshold
	}
}

// WithDimension sets the required vector dimension.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithScanShards sets how many goroutines the distance scan fans out to.
// Defaults to GOMAXPROCS.
func WithScanShards(n int) Option {
	return func(o *options) {
		o.scanShards = n
	}
}

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithExtractor configures the feature extractor used by ClassifyImage.
func WithExtractor(e extract.Extractor) Option {
	return func(o *options) {
		o.extractor = e
	}
}

// WithController configures the resource controller (writer gate,
// classification admission, background workers).
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithCacheOptions forwards options to the snapshot cache created for a
// store that is not already cache-decorated.
func WithCacheOptions(optFns ...func(o *cache.Options)) Option {
	return func(o *options) {
		o.cacheOptions = optFns
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		threshold:  DefaultThreshold,
		dimension:  model.DefaultDimension,
		scanShards: runtime.GOMAXPROCS(0),
		logger:     NoopLogger(),
		metrics:    NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.scanShards < 1 {
		o.scanShards = 1
	}
	return o
}
