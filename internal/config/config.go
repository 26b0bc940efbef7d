// Package config implements the dkimextract configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"blitiri.com.ar/go/log"

	"gopkg.in/yaml.v2"
)

// ErrInvalid is returned (wrapped) for configurations that can be parsed
// but have values out of range.
var ErrInvalid = errors.New("invalid configuration")

// Config for a dkimextract run.
type Config struct {
	// Maximum number of messages to read from the mailbox.
	MaxMessages int `yaml:"max_messages"`

	// Groups with fewer records than this are not written.
	MinGroupSize int `yaml:"min_group_size"`

	// Drop records whose signed data and signature were already seen under
	// the same identity.
	Dedupe bool `yaml:"dedupe"`

	// Treat duplicate tags in a DKIM-Signature as malformed, instead of
	// letting the last one win.
	RejectDuplicateTags bool `yaml:"reject_duplicate_tags"`

	// Also write the canonicalized body of each record.
	WriteCanonicalBody bool `yaml:"write_canonical_body"`

	// Keep going when a group cannot be written. If false, the first write
	// error aborts the run.
	ContinueOnWriteError *bool `yaml:"continue_on_write_error"`

	// Where to write the per-signature outcome log. Can be a path, or one of
	// "<syslog>", "<stdout>", "<stderr>". Empty means no log.
	SkipLogPath string `yaml:"skip_log_path"`

	// Address for the monitoring HTTP server. Empty means no server.
	MonitoringAddress string `yaml:"monitoring_address"`
}

func boolPtr(b bool) *bool { return &b }

var defaultConfig = Config{
	MaxMessages:          100,
	MinGroupSize:         2,
	ContinueOnWriteError: boolPtr(true),
}

// Default returns a copy of the default configuration.
func Default() *Config {
	c := defaultConfig
	c.ContinueOnWriteError = boolPtr(*defaultConfig.ContinueOnWriteError)
	return &c
}

// Load the config from the given file, with the given overrides (in YAML
// format). An empty path means only the defaults and the overrides are
// used.
func Load(path, overrides string) (*Config, error) {
	// Start with a copy of the default config.
	c := Default()

	// Load from the path.
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config at %q: %v", path, err)
		}

		fromFile := &Config{}
		err = yaml.UnmarshalStrict(buf, fromFile)
		if err != nil {
			return nil, fmt.Errorf("parsing config: %v", err)
		}
		override(c, fromFile)
	}

	// Handle command line overrides.
	fromOverrides := &Config{}
	err := yaml.UnmarshalStrict([]byte(overrides), fromOverrides)
	if err != nil {
		return nil, fmt.Errorf("parsing override: %v", err)
	}
	override(c, fromOverrides)

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) validate() error {
	if c.MaxMessages < 1 {
		return fmt.Errorf("%w: max_messages must be positive, got %d",
			ErrInvalid, c.MaxMessages)
	}
	if c.MinGroupSize < 1 {
		return fmt.Errorf("%w: min_group_size must be positive, got %d",
			ErrInvalid, c.MinGroupSize)
	}
	return nil
}

// Override fields in `c` that are set in `o`. Zero values mean "not set",
// which is why ContinueOnWriteError (that defaults to true) is a pointer.
func override(c, o *Config) {
	if o.MaxMessages != 0 {
		c.MaxMessages = o.MaxMessages
	}
	if o.MinGroupSize != 0 {
		c.MinGroupSize = o.MinGroupSize
	}

	if o.Dedupe {
		c.Dedupe = true
	}
	if o.RejectDuplicateTags {
		c.RejectDuplicateTags = true
	}
	if o.WriteCanonicalBody {
		c.WriteCanonicalBody = true
	}
	if o.ContinueOnWriteError != nil {
		c.ContinueOnWriteError = boolPtr(*o.ContinueOnWriteError)
	}

	if o.SkipLogPath != "" {
		c.SkipLogPath = o.SkipLogPath
	}
	if o.MonitoringAddress != "" {
		c.MonitoringAddress = o.MonitoringAddress
	}
}

// ContinueOnWriteErrors returns the effective value of
// continue_on_write_error.
func (c *Config) ContinueOnWriteErrors() bool {
	return c.ContinueOnWriteError == nil || *c.ContinueOnWriteError
}

// LogConfig logs the given configuration, in a human-friendly way.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  Max messages: %d", c.MaxMessages)
	log.Infof("  Min group size: %d", c.MinGroupSize)
	log.Infof("  Dedupe: %v", c.Dedupe)
	log.Infof("  Reject duplicate tags: %v", c.RejectDuplicateTags)
	log.Infof("  Write canonical body: %v", c.WriteCanonicalBody)
	log.Infof("  Continue on write error: %v", c.ContinueOnWriteErrors())
	log.Infof("  Skip log: %q", c.SkipLogPath)
	log.Infof("  Monitoring address: %q", c.MonitoringAddress)
}

// String returns the configuration in YAML format.
func (c *Config) String() string {
	buf, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(buf)
}
