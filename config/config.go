package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	HTTP       ServerConfig
	MySQL      MySQLConfig
	Redis      RedisConfig
	Log        LogConfig
	Gateway    GatewayConfig
	Downstream DownstreamConfig
	Payments   PaymentsConfig
	Jobs       JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig backs the webhook replay short-circuit. An empty Addr
// disables redis and the dedup middleware falls back to process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	DedupTTL time.Duration
}

type LogConfig struct {
	Level string
}

// GatewayConfig selects and credentials the payment providers. Enabled
// names providers to construct; Sandbox gates the mock provider and is
// passed through to adapters that use test endpoints.
type GatewayConfig struct {
	Enabled []string
	Sandbox bool

	PayFast     PayFastConfig
	Paddle      PaddleConfig
	NOWPayments NOWPaymentsConfig
	Mock        MockConfig
}

type PayFastConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	ProcessURL  string
	NotifyURL   string
	ReturnURL   string
	CancelURL   string
}

type PaddleConfig struct {
	APIKey                    string
	WebhookSecret             string
	BaseURL                   string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type NOWPaymentsConfig struct {
	APIKey      string
	IPNSecret   string
	Email       string
	Password    string
	BaseURL     string
	TokenTTL    time.Duration
	HTTPTimeout time.Duration
}

type MockConfig struct {
	CompleteAfter time.Duration
}

// DownstreamConfig points at the collaborator that consumes completed
// payments (ledger/licensing side).
type DownstreamConfig struct {
	CompletionURL string
	APIKey        string
	Timeout       time.Duration
}

type PaymentsConfig struct {
	ReconcileStaleAfter      time.Duration
	PollCutoffAge            time.Duration
	PropagationMaxAttempts   int32
	PropagationRetryInterval time.Duration
	JobBatchSize             int32
}

type JobsConfig struct {
	ReconcileInterval time.Duration
	PropagateInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	completionURL := os.Getenv("DOWNSTREAM_COMPLETION_URL")
	if completionURL == "" {
		return nil, errors.New("DOWNSTREAM_COMPLETION_URL environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "paygate"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			DedupTTL: getMinutesEnv("WEBHOOK_DEDUP_TTL_MINUTES", 10*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Gateway: GatewayConfig{
			Enabled: getListEnv("PAYMENTS_ENABLED_PROVIDERS", nil),
			Sandbox: getBoolEnv("PAYMENTS_SANDBOX", false),
			PayFast: PayFastConfig{
				MerchantID:  getEnv("PAYFAST_MERCHANT_ID", ""),
				MerchantKey: getEnv("PAYFAST_MERCHANT_KEY", ""),
				Passphrase:  getEnv("PAYFAST_PASSPHRASE", ""),
				ProcessURL:  getEnv("PAYFAST_PROCESS_URL", "https://www.payfast.co.za/eng/process"),
				NotifyURL:   getEnv("PAYFAST_NOTIFY_URL", ""),
				ReturnURL:   getEnv("PAYFAST_RETURN_URL", ""),
				CancelURL:   getEnv("PAYFAST_CANCEL_URL", ""),
			},
			Paddle: PaddleConfig{
				APIKey:                    getEnv("PADDLE_API_KEY", ""),
				WebhookSecret:             getEnv("PADDLE_WEBHOOK_SECRET", ""),
				BaseURL:                   getEnv("PADDLE_BASE_URL", "https://api.paddle.com"),
				SignatureToleranceSeconds: int64(getIntEnv("PADDLE_SIGNATURE_TOLERANCE_SECONDS", 300)),
				HTTPTimeout:               getSecondsEnv("PADDLE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			},
			NOWPayments: NOWPaymentsConfig{
				APIKey:      getEnv("NOWPAYMENTS_API_KEY", ""),
				IPNSecret:   getEnv("NOWPAYMENTS_IPN_SECRET", ""),
				Email:       getEnv("NOWPAYMENTS_EMAIL", ""),
				Password:    getEnv("NOWPAYMENTS_PASSWORD", ""),
				BaseURL:     getEnv("NOWPAYMENTS_BASE_URL", "https://api.nowpayments.io"),
				TokenTTL:    getMinutesEnv("NOWPAYMENTS_TOKEN_TTL_MINUTES", 5*time.Minute),
				HTTPTimeout: getSecondsEnv("NOWPAYMENTS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			},
			Mock: MockConfig{
				CompleteAfter: getSecondsEnv("MOCK_COMPLETE_AFTER_SECONDS", 2*time.Second),
			},
		},
		Downstream: DownstreamConfig{
			CompletionURL: completionURL,
			APIKey:        getEnv("DOWNSTREAM_API_KEY", ""),
			Timeout:       getSecondsEnv("DOWNSTREAM_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Payments: PaymentsConfig{
			ReconcileStaleAfter:      getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			PollCutoffAge:            getMinutesEnv("PAYMENTS_POLL_CUTOFF_AGE_MINUTES", 7*24*time.Hour),
			PropagationMaxAttempts:   int32(getIntEnv("PAYMENTS_PROPAGATION_MAX_ATTEMPTS", 10)),
			PropagationRetryInterval: getMinutesEnv("PAYMENTS_PROPAGATION_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			JobBatchSize:             int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ReconcileInterval: getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			PropagateInterval: getMinutesEnv("PAYMENTS_PROPAGATE_INTERVAL_MINUTES", time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
