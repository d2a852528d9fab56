package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the call bridge service.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used for logging the WebSocket endpoint; the carrier connects to wss://<this-host>/streams/carrier.
	// Optional; if unset, logs ws://localhost:PORT/streams/carrier.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// Realtime model WebSocket configuration
	RealtimeURL           string `envconfig:"REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`
	RealtimeModel         string `envconfig:"REALTIME_MODEL" default:"gpt-4o-realtime-preview"`
	RealtimeAPIKey        string `envconfig:"REALTIME_API_KEY" required:"true"`
	RealtimeVoice         string `envconfig:"REALTIME_VOICE" default:"alloy"`
	SessionReadyTimeoutMs int    `envconfig:"SESSION_READY_TIMEOUT_MS" default:"3000"`

	// Barge-in configuration
	BargeInDebounceMs  int     `envconfig:"BARGE_IN_DEBOUNCE_MS" default:"1000"`
	BargeInMinRemainMs int     `envconfig:"BARGE_IN_MIN_REMAIN_MS" default:"2000"`
	VADSilenceMs       int     `envconfig:"VAD_SILENCE_MS" default:"600"`
	VADThreshold       float64 `envconfig:"VAD_THRESHOLD" default:"0.7"`

	// Feature flags
	Base64Passthrough bool `envconfig:"BASE64_PASSTHROUGH" default:"true"`
	SmartCancel       bool `envconfig:"SMART_CANCEL" default:"true"`

	// Tenant config / reservation-field / notification-settings store
	TenantStoreURL            string `envconfig:"TENANT_STORE_URL" default:""`
	TenantStoreTimeoutSeconds int    `envconfig:"TENANT_STORE_TIMEOUT_SECONDS" default:"5"`

	// Reservation store
	ReservationsDBPath string `envconfig:"RESERVATIONS_DB_PATH" default:"./data/reservations.db"`

	// Per-call event log sink
	EventLogDir string `envconfig:"EVENT_LOG_DIR" default:"./data/events"`

	// Local fallback system prompt, used when the tenant config store is
	// unreachable or returns no prompt row.
	PromptFilePath string `envconfig:"PROMPT_FILE_PATH" default:"./system_prompt.md"`

	// Notification transports (optional; a tenant with no settings row gets a no-op notifier)
	SendgridAPIKey     string `envconfig:"SENDGRID_API_KEY" default:""`
	NotifyFromEmail    string `envconfig:"NOTIFY_FROM_EMAIL" default:""`
	SlackBotToken      string `envconfig:"SLACK_BOT_TOKEN" default:""`
	SlackDefaultChannel string `envconfig:"SLACK_DEFAULT_CHANNEL" default:""`

	// Resilience configuration (applied to the tenant config store client)
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"`
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.RealtimeAPIKey == "" {
		return nil, fmt.Errorf("REALTIME_API_KEY is required")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
