package outbox

import "time"

const (
	defaultDispatchInterval    = 2 * time.Second
	defaultBatchSize           = 50
	defaultPublishMaxAttempts  = 3
	defaultPublishBackoff      = 200 * time.Millisecond
	defaultMaxDispatchAttempts = 10
	defaultBreakerFailures     = 5
	defaultBreakerOpenTimeout  = 30 * time.Second
	defaultProcessingTimeout   = 10 * time.Minute
)

// DispatcherConfig controls polling, retry and breaker behavior.
type DispatcherConfig struct {
	// DispatchInterval is the pause between dispatch cycles.
	DispatchInterval time.Duration `env:"INTERVAL" envDefault:"2s"`
	// BatchSize is the max number of events processed per cycle.
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`
	// PublishMaxAttempts is the max in-cycle publish attempts for one event.
	PublishMaxAttempts int `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"3"`
	// PublishBackoff is the base backoff between in-cycle retries.
	PublishBackoff time.Duration `env:"PUBLISH_BACKOFF" envDefault:"200ms"`
	// MaxDispatchAttempts is the number of failed cycles before an event is invalidated.
	MaxDispatchAttempts int `env:"MAX_DISPATCH_ATTEMPTS" envDefault:"10"`
	// BreakerFailures is the consecutive failure count that opens the publish breaker.
	BreakerFailures uint32 `env:"BREAKER_FAILURES" envDefault:"5"`
	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
	// ProcessingTimeout is the age after which a claimed event is reclaimed.
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"10m"`
}

// DefaultDispatcherConfig returns the baseline dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DispatchInterval:    defaultDispatchInterval,
		BatchSize:           defaultBatchSize,
		PublishMaxAttempts:  defaultPublishMaxAttempts,
		PublishBackoff:      defaultPublishBackoff,
		MaxDispatchAttempts: defaultMaxDispatchAttempts,
		BreakerFailures:     defaultBreakerFailures,
		BreakerOpenTimeout:  defaultBreakerOpenTimeout,
		ProcessingTimeout:   defaultProcessingTimeout,
	}
}

func (cfg *DispatcherConfig) normalize() {
	defaults := DefaultDispatcherConfig()

	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = defaults.DispatchInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.PublishMaxAttempts <= 0 {
		cfg.PublishMaxAttempts = defaults.PublishMaxAttempts
	}

	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = defaults.PublishBackoff
	}

	if cfg.MaxDispatchAttempts <= 0 {
		cfg.MaxDispatchAttempts = defaults.MaxDispatchAttempts
	}

	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}

	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = defaults.BreakerOpenTimeout
	}

	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaults.ProcessingTimeout
	}
}
