package dbwriter

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mitchellh/mapstructure"

	"vermont/core/errors"
)

// Column filled from Config.ObservationDomainID when configured.
const ColumnObservationDomainID = "observation_domain_id"

// Column filled from Config.NodeID when configured.
const ColumnNodeID = "node_id"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds the startup parameters of the database writer.
type Config struct {
	Hostname string `mapstructure:"hostname"`
	Port     uint16 `mapstructure:"port"`
	DBName   string `mapstructure:"dbname"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// BufferRecords is the number of records buffered before they are written.
	BufferRecords int `mapstructure:"buffer_records"`
	// ObservationDomainID overrides the id received in the records when non-zero.
	ObservationDomainID uint32   `mapstructure:"observation_domain_id"`
	Columns             []string `mapstructure:"columns"`
	NodeID              string   `mapstructure:"node_id"`
	Latitude            float64  `mapstructure:"latitude"`
	Longitude           float64  `mapstructure:"longitude"`

	Table string `mapstructure:"table"`
	// PollInterval is how often the writer checks for cancellation while idle.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns the writer defaults applied before decoding.
func DefaultConfig() Config {
	return Config{
		Hostname:      "localhost",
		DBName:        "flows.db",
		BufferRecords: 100,
		Table:         "flows",
		PollInterval:  100 * time.Millisecond,
	}
}

// DecodeConfig decodes a generic module configuration map on top of the defaults.
func DecodeConfig(raw interface{}) (Config, error) {
	cfg := DefaultConfig()
	if raw == nil {
		return cfg, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode dbwriter config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and valid values.
func (c Config) Validate() error {
	if c.DBName == "" {
		return fmt.Errorf("%w: dbname is required", errors.ErrInvalidInput)
	}
	if c.BufferRecords <= 0 {
		return fmt.Errorf("%w: buffer_records must be positive, got %d", errors.ErrInvalidInput, c.BufferRecords)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive, got %s", errors.ErrInvalidInput, c.PollInterval)
	}
	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("%w: invalid table name %q", errors.ErrInvalidInput, c.Table)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", errors.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if !identifier.MatchString(col) {
			return fmt.Errorf("%w: invalid column name %q", errors.ErrInvalidInput, col)
		}
		if _, dup := seen[col]; dup {
			return fmt.Errorf("%w: duplicate column %q", errors.ErrInvalidInput, col)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// Target describes the database for logs. The password is never included.
func (c Config) Target() string {
	if c.User == "" {
		return fmt.Sprintf("%s:%d/%s", c.Hostname, c.Port, c.DBName)
	}
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Hostname, c.Port, c.DBName)
}
