package module

import (
	"time"

	"github.com/go-playground/validator/v10"

	"pkgsearch/internal/platform/config"
	perr "pkgsearch/internal/platform/errors"
)

// Options controls watcher behavior. Values may also be read from env
type Options struct {
	// queue watermarks
	MaxPrefetch int `validate:"gt=0"`
	MinUnpause  int `validate:"gte=1,ltfield=MaxPrefetch"`

	// retry policy
	RetryMax         int           `validate:"gte=0"`
	RetryBackoffBase time.Duration `validate:"gt=0"`
	RetryBackoffPow  float64       `validate:"gt=1"`

	// timers
	RetrySkipped  time.Duration `validate:"gt=0"`
	RefreshPeriod time.Duration `validate:"gte=0"`
	TotalSeqEvery time.Duration `validate:"gt=0"`
}

// FromConfig reads options using the WATCH_ prefix
func FromConfig(cfg config.Conf) Options {
	w := cfg.Prefix("WATCH_")
	return Options{
		MaxPrefetch:      w.MayInt("MAX_PREFETCH", 100),
		MinUnpause:       w.MayInt("MIN_UNPAUSE", 10),
		RetryMax:         w.MayInt("RETRY_MAX", 2),
		RetryBackoffBase: w.MayDuration("RETRY_BACKOFF_BASE", 500*time.Millisecond),
		RetryBackoffPow:  w.MayFloat64("RETRY_BACKOFF_POW", 2.0),
		RetrySkipped:     w.MayDuration("RETRY_SKIPPED", time.Hour),
		RefreshPeriod:    w.MayDuration("REFRESH_PERIOD", 0),
		TotalSeqEvery:    w.MayDuration("TOTAL_SEQ_EVERY", 5*time.Second),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects option combinations that would wedge the pipeline,
// flapping watermarks above all
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return perr.Wrap(err, perr.ErrorCodeValidation, "watch options")
	}
	return nil
}
