// Package config loads daemon configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Config holds every setting of the daemon.
type Config struct {
	// --- Database ---
	DatabaseDSN string `envconfig:"DATABASE_DSN" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- gRPC admin server ---
	GRPCAddr     string `envconfig:"GRPC_ADDR" default:":8443"`
	TLSCert      string `envconfig:"TLS_CERT" default:"cert.pem"`
	TLSKey       string `envconfig:"TLS_KEY" default:"key.pem"`
	GRPCInsecure bool   `envconfig:"GRPC_INSECURE" default:"false"`
	JWTKey       string `envconfig:"JWT_KEY" required:"true"`
	Dev          bool   `envconfig:"DEV" default:"false"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"info"`
	// AppTimezone is the canonical day boundary for streaks and schedules.
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"UTC"`

	// --- Background queue ---
	QueueSize        int `envconfig:"QUEUE_SIZE" default:"1024"`
	QueueWorkers     int `envconfig:"QUEUE_WORKERS" default:"4"`
	QueueMaxAttempts int `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`

	// --- Integrity ---
	GuardCheckTimeout time.Duration `envconfig:"GUARD_CHECK_TIMEOUT" default:"2s"`
	MonitorSchedule   string        `envconfig:"MONITOR_SCHEDULE" default:"@every 15m"`
	MonitorTimeout    time.Duration `envconfig:"MONITOR_TIMEOUT" default:"5m"`
	MonitorBatchSize  int           `envconfig:"MONITOR_BATCH_SIZE" default:"500"`
	MonitorAutoFix    bool          `envconfig:"MONITOR_AUTO_FIX" default:"true"`

	// --- Streaks ---
	StreakResetSchedule string `envconfig:"STREAK_RESET_SCHEDULE" default:"5 0 * * *"`

	// --- Rankings ---
	RankingSchedule      string             `envconfig:"RANKING_SCHEDULE" default:"@every 30m"`
	RankingExcludedRoles []string           `envconfig:"RANKING_EXCLUDED_ROLES" default:"admin,super_admin"`
	RankingWeights       map[string]float64 `envconfig:"RANKING_WEIGHTS" default:"TOTAL_XP:0.35,COLLECTOR:0.20,TRADER:0.15,PACK_OPENER:0.15,STREAK:0.15"`
	JobTimeout           time.Duration      `envconfig:"JOB_TIMEOUT" default:"10m"`

	location *time.Location
}

// Location returns the parsed canonical timezone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// ExcludedRoles returns RankingExcludedRoles as roles.
func (c *Config) ExcludedRoles() []model.Role {
	out := make([]model.Role, 0, len(c.RankingExcludedRoles))
	for _, r := range c.RankingExcludedRoles {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, model.Role(r))
		}
	}
	return out
}

// Weights returns the composite ranking weights keyed by category.
func (c *Config) Weights() map[model.RankingCategory]float64 {
	out := make(map[model.RankingCategory]float64, len(c.RankingWeights))
	for k, v := range c.RankingWeights {
		out[model.RankingCategory(strings.TrimSpace(k))] = v
	}
	return out
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return fmt.Errorf("APP_TIMEZONE %q: %w", c.AppTimezone, err)
	}
	c.location = loc

	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.QueueSize <= 0 || c.QueueWorkers <= 0 || c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_SIZE, QUEUE_WORKERS and QUEUE_MAX_ATTEMPTS must be > 0")
	}
	if c.GuardCheckTimeout <= 0 || c.MonitorTimeout <= 0 || c.JobTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	// the monitor cycle runs inside a job and must end first
	if c.JobTimeout <= c.MonitorTimeout {
		return fmt.Errorf("JOB_TIMEOUT (%s) must exceed MONITOR_TIMEOUT (%s)", c.JobTimeout, c.MonitorTimeout)
	}
	if c.MonitorBatchSize <= 0 {
		return fmt.Errorf("MONITOR_BATCH_SIZE must be > 0")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"MONITOR_SCHEDULE":      c.MonitorSchedule,
		"STREAK_RESET_SCHEDULE": c.StreakResetSchedule,
		"RANKING_SCHEDULE":      c.RankingSchedule,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s %q: %w", name, spec, err)
		}
	}

	var sum float64
	for k, w := range c.RankingWeights {
		cat := model.RankingCategory(strings.TrimSpace(k))
		if !cat.Valid() || cat == model.RankGlobal {
			return fmt.Errorf("RANKING_WEIGHTS: unknown category %q", k)
		}
		if w < 0 {
			return fmt.Errorf("RANKING_WEIGHTS: negative weight for %s", k)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("RANKING_WEIGHTS must have a positive sum")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is empty")
	}
	if c.JWTKey == "" {
		return fmt.Errorf("JWT_KEY is empty")
	}
	return nil
}

// Load reads environment variables into Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
