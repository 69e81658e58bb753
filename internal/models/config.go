package models

// Config holds the application configuration
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Schedule ScheduleConfig `json:"schedule"`
	Server   ServerConfig   `json:"server"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// GatewayConfig holds messaging gateway related configuration
type GatewayConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	EventsURL     string `json:"events_url"`
	APIKey        string `json:"api_key"`
	BotSession    string `json:"bot_session"`
	TimeoutSec    int    `json:"timeoutSec"`
	EventsEnabled bool   `json:"eventsEnabled"`
	ReconnectSec  int    `json:"reconnectSec"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig holds queue processor tuning
type QueueConfig struct {
	TickIntervalSec    int `json:"tickIntervalSec"`
	SendCooldownSec    int `json:"sendCooldownSec"`
	LockStaleAfterSec  int `json:"lockStaleAfterSec"`
	DispatchTimeoutSec int `json:"dispatchTimeoutSec"`
	QuarantineHours    int `json:"quarantineHours"`
}

// ScheduleConfig holds scheduling calculator configuration
type ScheduleConfig struct {
	OwnerTimezone string `json:"ownerTimezone"`
}

// ServerConfig holds webhook server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	WebhookSecret   string `json:"webhook_secret"`
	ReadTimeoutSec  int    `json:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	ServiceName  string  `json:"serviceName"`
	Environment  string  `json:"environment"`
	OTLPEndpoint string  `json:"otlpEndpoint"`
	SampleRate   float64 `json:"sampleRate"`
	UseStdout    bool    `json:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// Encryption parameters for the database field encryptor.
const (
	NonceSize  = 12
	KeySize    = 32
	Iterations = 100000
)
