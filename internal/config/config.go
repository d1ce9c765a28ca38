package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Identities IdentitiesConfig `yaml:"identities"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Onboarding OnboardingConfig `yaml:"onboarding"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig contains the operator HTTP API settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// GatewayConfig contains platform bridge settings
type GatewayConfig struct {
	BridgeURL             string `yaml:"bridge_url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// IdentitiesConfig names the two platform actors and the human operator
type IdentitiesConfig struct {
	DelegateUserID int64  `yaml:"delegate_user_id"`
	ControlUserID  int64  `yaml:"control_user_id"`
	OperatorEmail  string `yaml:"operator_email"`
}

// PacingConfig contains the shared rate limit and retry policy settings
type PacingConfig struct {
	RatePerSecond     float64 `yaml:"rate_per_second"`
	Burst             int     `yaml:"burst"`
	RetryBaseDelayMS  int     `yaml:"retry_base_delay_ms"`
	RetryMaxAttempts  uint    `yaml:"retry_max_attempts"`
	RetryJitterFactor float64 `yaml:"retry_jitter_factor"`
}

// OnboardingConfig tunes the onboarding state machine
type OnboardingConfig struct {
	MembershipVerifyAttempts uint `yaml:"membership_verify_attempts"`
	StallTimeoutMinutes      int  `yaml:"stall_timeout_minutes"`
}

// DispatchConfig sizes the inbound event worker pool
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SchedulerConfig contains cron schedule settings for the sweeper jobs
type SchedulerConfig struct {
	ReDriveOnboarding string `yaml:"re_drive_onboarding"`
	RetryPending      string `yaml:"retry_pending"`
	RepairCounters    string `yaml:"repair_counters"`
}

// AlertsConfig contains operator email alert settings
type AlertsConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
}

// JWTConfig contains operator token settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Gateway
	if val := os.Getenv("BRIDGE_URL"); val != "" {
		c.Gateway.BridgeURL = val
	}

	// Identities
	if val := os.Getenv("DELEGATE_USER_ID"); val != "" {
		fmt.Sscanf(val, "%d", &c.Identities.DelegateUserID)
	}
	if val := os.Getenv("CONTROL_USER_ID"); val != "" {
		fmt.Sscanf(val, "%d", &c.Identities.ControlUserID)
	}
	if val := os.Getenv("OPERATOR_EMAIL"); val != "" {
		c.Identities.OperatorEmail = val
	}

	// Alerts
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.Alerts.SendGridAPIKey = val
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	// Gateway validation
	if c.Gateway.BridgeURL == "" {
		return fmt.Errorf("gateway bridge URL is required")
	}
	if c.Gateway.RequestTimeoutSeconds == 0 {
		// Long polls run up to 30s; leave headroom.
		c.Gateway.RequestTimeoutSeconds = 40
	}

	// Identities validation
	if c.Identities.DelegateUserID == 0 {
		return fmt.Errorf("delegate user id is required")
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	// Pacing defaults
	if c.Pacing.RatePerSecond == 0 {
		c.Pacing.RatePerSecond = 0.5 // one delegate action per two seconds
	}
	if c.Pacing.Burst == 0 {
		c.Pacing.Burst = 1
	}
	if c.Pacing.RetryBaseDelayMS == 0 {
		c.Pacing.RetryBaseDelayMS = 500
	}
	if c.Pacing.RetryMaxAttempts == 0 {
		c.Pacing.RetryMaxAttempts = 4
	}
	if c.Pacing.RetryJitterFactor == 0 {
		c.Pacing.RetryJitterFactor = 0.5
	}

	// Onboarding defaults
	if c.Onboarding.MembershipVerifyAttempts == 0 {
		c.Onboarding.MembershipVerifyAttempts = 5
	}
	if c.Onboarding.StallTimeoutMinutes == 0 {
		c.Onboarding.StallTimeoutMinutes = 15
	}

	// Dispatch defaults
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 256
	}

	// Scheduler defaults
	if c.Scheduler.ReDriveOnboarding == "" {
		c.Scheduler.ReDriveOnboarding = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.RetryPending == "" {
		c.Scheduler.RetryPending = "0 */2 * * * *" // every 2 minutes
	}
	if c.Scheduler.RepairCounters == "" {
		c.Scheduler.RepairCounters = "0 0 * * * *" // hourly
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the operator HTTP API address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GatewayRequestTimeout returns the bridge call timeout as a duration
func (c *Config) GatewayRequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutSeconds) * time.Second
}

// OnboardingStallTimeout returns the re-drive staleness cutoff as a duration
func (c *Config) OnboardingStallTimeout() time.Duration {
	return time.Duration(c.Onboarding.StallTimeoutMinutes) * time.Minute
}

// RetryBaseDelay returns the backoff base delay as a duration
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Pacing.RetryBaseDelayMS) * time.Millisecond
}
