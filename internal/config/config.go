// Package config provides structures and utilities for managing the payrun
// service configuration, loaded from a YAML file, a .env file, and
// environment variable overrides.
package config

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`             // Database type ("postgres", "mysql", "sqlite").
	Host     string     `yaml:"host"`             // Database host address.
	Port     int        `yaml:"port"`             // Database port number.
	Database string     `yaml:"database"`         // Database name, or file path for sqlite.
	User     string     `yaml:"user"`             // Database user.
	Password string     `yaml:"password"`         // Database password.
	Sslmode  string     `yaml:"sslmode"`          // SSL mode for the connection.
	Pool     PoolConfig `yaml:"pool"`             // Connection pool settings.
}

// SettlementConfig holds settlement coordinator settings.
type SettlementConfig struct {
	// Workers is the number of concurrent settlement workers.
	Workers int `yaml:"workers"`
	// QueueSize is the buffer size of the settlement task queue.
	QueueSize int `yaml:"queue_size"`
	// SignerThreshold is the number of key shares handed to the signer; a
	// fixed-size prefix of the wallet's available shares.
	SignerThreshold int `yaml:"signer_threshold"`
	// MaxRetries is the retry budget per item. Once reached, a FAILED item
	// stays terminally FAILED.
	MaxRetries int `yaml:"max_retries"`
	// SignTimeoutSeconds bounds one signer round-trip.
	SignTimeoutSeconds int `yaml:"sign_timeout_seconds"`
	// SubmitTimeoutSeconds bounds one ledger submission.
	SubmitTimeoutSeconds int `yaml:"submit_timeout_seconds"`
	// ConfirmTimeoutSeconds bounds the wait for ledger confirmation.
	ConfirmTimeoutSeconds int `yaml:"confirm_timeout_seconds"`
	// ConfirmPollSeconds is the interval between confirmation polls.
	ConfirmPollSeconds int `yaml:"confirm_poll_seconds"`
	// TokenMint is the asset identifier used for payroll transfers.
	TokenMint string `yaml:"token_mint"`
}

// SchedulerConfig holds sweep cadence settings.
type SchedulerConfig struct {
	// DueSweepIntervalMinutes is how often the due-run sweep fires.
	DueSweepIntervalMinutes int `yaml:"due_sweep_interval_minutes"`
	// RetrySweepIntervalMinutes is how often the failed-item retry sweep fires.
	RetrySweepIntervalMinutes int `yaml:"retry_sweep_interval_minutes"`
	// DueSweepAnchorHour is the local hour (0-23) the first due-run sweep
	// waits for after startup. Subsequent sweeps follow the interval.
	DueSweepAnchorHour int `yaml:"due_sweep_anchor_hour"`
}

// ClientConfig holds a single external collaborator endpoint.
type ClientConfig struct {
	// BaseURL is the collaborator's base URL.
	BaseURL string `yaml:"base_url"`
	// TimeoutSeconds bounds one HTTP round-trip to the collaborator.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SignerClientConfig holds the threshold-signing service settings.
type SignerClientConfig struct {
	ClientConfig `yaml:",inline"`
	// JWTSecret signs the short-lived service token sent to the signer.
	JWTSecret string `yaml:"jwt_secret"`
}

// ClientsConfig groups the external collaborator endpoints.
type ClientsConfig struct {
	Signer    SignerClientConfig `yaml:"signer"`
	Ledger    ClientConfig       `yaml:"ledger"`
	Directory ClientConfig       `yaml:"directory"`
	// WebhookURL, when set, receives completion events.
	WebhookURL string `yaml:"webhook_url"`
}

// ServerConfig holds the admin HTTP surface settings.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// TelemetryConfig holds metrics and tracing settings.
type TelemetryConfig struct {
	// MetricsEnabled exposes the Prometheus registry on /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// OTLPEndpoint is the collector endpoint for trace export. Empty
	// disables trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// OTLPProtocol selects the exporter transport ("grpc" or "http").
	OTLPProtocol string `yaml:"otlp_protocol"`
	// ServiceName is the resource service.name reported to the collector.
	ServiceName string `yaml:"service_name"`
}

// PayrunConfig holds all configuration under the "payrun" top-level key.
type PayrunConfig struct {
	System     SystemConfig     `yaml:"system"`
	Database   DatabaseConfig   `yaml:"database"`
	Settlement SettlementConfig `yaml:"settlement"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Clients    ClientsConfig    `yaml:"clients"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Payrun PayrunConfig `yaml:"payrun"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Payrun: PayrunConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Database: DatabaseConfig{
				Type:     "sqlite",
				Database: "payrun.db",
				Pool: PoolConfig{
					MaxOpenConns:           10,
					MaxIdleConns:           5,
					ConnMaxLifetimeMinutes: 30,
				},
			},
			Settlement: SettlementConfig{
				Workers:               8,
				QueueSize:             256,
				SignerThreshold:       2,
				MaxRetries:            3,
				SignTimeoutSeconds:    30,
				SubmitTimeoutSeconds:  30,
				ConfirmTimeoutSeconds: 60,
				ConfirmPollSeconds:    2,
				TokenMint:             "USDC",
			},
			Scheduler: SchedulerConfig{
				DueSweepIntervalMinutes:   1440,
				RetrySweepIntervalMinutes: 60,
				DueSweepAnchorHour:        9,
			},
			Clients: ClientsConfig{
				Signer: SignerClientConfig{
					ClientConfig: ClientConfig{
						BaseURL:        "http://localhost:8080",
						TimeoutSeconds: 30,
					},
				},
				Ledger: ClientConfig{
					BaseURL:        "https://api.devnet.solana.com",
					TimeoutSeconds: 30,
				},
				Directory: ClientConfig{
					BaseURL:        "http://localhost:3002",
					TimeoutSeconds: 10,
				},
			},
			Server: ServerConfig{
				Addr:     ":3004",
				BasePath: "/v1",
			},
			Telemetry: TelemetryConfig{
				MetricsEnabled: true,
				OTLPProtocol:   "grpc",
				ServiceName:    "payrun",
			},
		},
	}
}
