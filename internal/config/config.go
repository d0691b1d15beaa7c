package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
)

// Prefix is prepended to every variable name, e.g. PORTUNUS_HTTP_ADDR.
const Prefix = "PORTUNUS"

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// DB
	Env    string `envconfig:"ENV" default:"dev"` // "dev" | "prod"
	DBPath string `envconfig:"DB_PATH" default:"./data/portunus.db"`

	// Modules commissioned by the dev seed.
	KnownModules []string `envconfig:"KNOWN_MODULES"`

	// Decisions
	Timezone           string        `envconfig:"TIMEZONE" default:"America/New_York"`
	SchedulePolicy     string        `envconfig:"SCHEDULE_POLICY" default:"card_then_door"`
	EnrollUnknownCards bool          `envconfig:"ENROLL_UNKNOWN_CARDS" default:"false"`
	ClockSkew          time.Duration `envconfig:"CLOCK_SKEW" default:"2m"`
	WiegandFormatsFile string        `envconfig:"WIEGAND_FORMATS_FILE"`

	// Audit
	AuditQueueSize    int           `envconfig:"AUDIT_QUEUE_SIZE" default:"1024"`
	AuditWriteTimeout time.Duration `envconfig:"AUDIT_WRITE_TIMEOUT" default:"2s"`
	AuditLog          bool          `envconfig:"AUDIT_LOG" default:"false"`
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisStream       string        `envconfig:"REDIS_STREAM" default:"portunus:access_events"`
	RedisStreamMaxLen int64         `envconfig:"REDIS_STREAM_MAXLEN" default:"100000"`

	// Retention, 0 = keep forever
	HeartbeatRetentionDays   int `envconfig:"HEARTBEAT_RETENTION_DAYS" default:"30"`
	AccessEventRetentionDays int `envconfig:"ACCESS_EVENT_RETENTION_DAYS" default:"365"`
	PruneIntervalHours       int `envconfig:"PRUNE_INTERVAL_HOURS" default:"6"`

	// Door is marked offline when no module heartbeat arrives for this long.
	DoorStaleAfter time.Duration `envconfig:"DOOR_STALE_AFTER" default:"2m"`

	// Requests per minute per client IP on device routes, 0 disables.
	DeviceRateLimit int `envconfig:"DEVICE_RATE_LIMIT" default:"120"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// FromEnv reads the PORTUNUS_* variables and validates the result.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	mods := c.KnownModules[:0]
	for _, m := range c.KnownModules {
		if m = strings.TrimSpace(m); m != "" {
			mods = append(mods, m)
		}
	}
	c.KnownModules = mods
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HTTP_ADDR is empty"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH is empty"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if _, err := engine.ParseSchedulePolicy(c.SchedulePolicy); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE_POLICY: %w", err))
	}
	if c.AuditQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_QUEUE_SIZE must be positive, got %d", c.AuditQueueSize))
	}
	if c.AuditWriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_WRITE_TIMEOUT must be positive, got %s", c.AuditWriteTimeout))
	}
	if c.ClockSkew < 0 {
		errs = append(errs, fmt.Errorf("CLOCK_SKEW must not be negative, got %s", c.ClockSkew))
	}
	for name, v := range map[string]int{
		"HEARTBEAT_RETENTION_DAYS":    c.HeartbeatRetentionDays,
		"ACCESS_EVENT_RETENTION_DAYS": c.AccessEventRetentionDays,
		"DEVICE_RATE_LIMIT":           c.DeviceRateLimit,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	if c.PruneIntervalHours <= 0 {
		errs = append(errs, fmt.Errorf("PRUNE_INTERVAL_HOURS must be positive, got %d", c.PruneIntervalHours))
	}
	if c.DoorStaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("DOOR_STALE_AFTER must be positive, got %s", c.DoorStaleAfter))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location is the site timezone. Validate has already checked it loads; a
// failure here falls back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) Policy() engine.SchedulePolicy {
	p, err := engine.ParseSchedulePolicy(c.SchedulePolicy)
	if err != nil {
		return engine.CardThenDoor
	}
	return p
}

func (c Config) IsProduction() bool { return c.Env == "prod" }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func (c Config) HeartbeatRetention() time.Duration   { return days(c.HeartbeatRetentionDays) }
func (c Config) AccessEventRetention() time.Duration { return days(c.AccessEventRetentionDays) }
func (c Config) PruneInterval() time.Duration        { return time.Duration(c.PruneIntervalHours) * time.Hour }
