package datachannel

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pion/logging"
)

const (
	DefaultChannelName                = "default"
	DefaultClosingPollInterval        = 5 * time.Second
	DefaultClosingPollThreshold       = 2
	DefaultFreshnessWindow            = 3 * time.Second
	DefaultCloseDelay                 = 3 * time.Second
	DefaultBufferedAmountLowThreshold = 64 * 1024
)

// Config tunes a Conn. Zero values take the defaults above.
//
// ClosingPollInterval and FreshnessWindow work around transports that
// get stuck in the closing state or misbehave when a channel is closed
// right after it opens. A negative value turns the workaround off.
type Config struct {
	// Initiator creates the default channel. Exactly one side of a
	// connection should set it.
	Initiator bool `mapstructure:"initiator"`

	// DefaultChannel is the reserved name of the default channel.
	DefaultChannel string `mapstructure:"default_channel"`

	ClosingPollInterval  time.Duration `mapstructure:"closing_poll_interval"`
	ClosingPollThreshold int           `mapstructure:"closing_poll_threshold"`

	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	CloseDelay      time.Duration `mapstructure:"close_delay"`

	// BufferedAmountLowThreshold is the point at which a blocked Write
	// resumes, for handles that can report it.
	BufferedAmountLowThreshold uint64 `mapstructure:"buffered_amount_low_threshold"`

	LoggerFactory logging.LoggerFactory `mapstructure:"-"`

	clock clock
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.DefaultChannel == "" {
		c.DefaultChannel = DefaultChannelName
	}
	if c.ClosingPollInterval == 0 {
		c.ClosingPollInterval = DefaultClosingPollInterval
	}
	if c.ClosingPollThreshold <= 0 {
		c.ClosingPollThreshold = DefaultClosingPollThreshold
	}
	if c.FreshnessWindow == 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.CloseDelay == 0 {
		c.CloseDelay = DefaultCloseDelay
	}
	if c.BufferedAmountLowThreshold == 0 {
		c.BufferedAmountLowThreshold = DefaultBufferedAmountLowThreshold
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	return c
}

// ConfigFromMap decodes m over DefaultConfig. Keys are the mapstructure
// tags of Config; durations may be given as strings like "5s".
func ConfigFromMap(m map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(m); err != nil {
		return cfg, err
	}
	return cfg, nil
}
