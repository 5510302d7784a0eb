package exchange

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/report"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/wait"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

const (
	EnvEndpoint                   = "WSX_ENDPOINT"
	EnvConnectionEstablishTimeout = "WSX_CONNECTION_ESTABLISH_TIMEOUT"
	EnvWaitResponse               = "WSX_WAIT_RESPONSE"
	EnvStrictWaiting              = "WSX_STRICT_WAITING"
	EnvResponseTimeout            = "WSX_RESPONSE_TIMEOUT"
	EnvPollInterval               = "WSX_POLL_INTERVAL"
)

type Config struct {
	Endpoint                   string
	ConnectionEstablishTimeout time.Duration
	// WaitResponse: SendAndWait ждёт ответы после отправки.
	WaitResponse bool
	// StrictWaiting: количество ответов должно совпасть точно, а не "не меньше".
	StrictWaiting bool

	ResponseTimeout      time.Duration
	PollInterval         time.Duration
	PredicateInterval    time.Duration
	DerivedStateInterval time.Duration
	NoMoreWindow         time.Duration

	Header http.Header
	TLS    *tls.Config

	Logger           *slog.Logger
	Sink             report.Sink
	Validator        Validator
	NewCorrelationID func() string
	OnTransportError func(error)
}

func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:                   endpoint,
		ConnectionEstablishTimeout: 2 * time.Second,
		WaitResponse:               true,
		StrictWaiting:              false,
		ResponseTimeout:            10 * time.Second,
		PollInterval:               wait.DefaultInterval,
		PredicateInterval:          100 * time.Millisecond,
		DerivedStateInterval:       500 * time.Millisecond,
		NoMoreWindow:               1500 * time.Millisecond,
		Logger:                     slog.Default(),
		Sink:                       report.NopSink(),
		NewCorrelationID:           NewCorrelationID,
	}
}

// ConfigFromEnv loads the given .env files (if present) and builds a config
// from WSX_* variables on top of DefaultConfig.
func ConfigFromEnv(files ...string) (Config, error) {
	if err := loadEnvFiles(files...); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig(getEnvString(EnvEndpoint, ""))
	cfg.ConnectionEstablishTimeout = getEnvDuration(EnvConnectionEstablishTimeout, cfg.ConnectionEstablishTimeout)
	cfg.WaitResponse = getEnvBool(EnvWaitResponse, cfg.WaitResponse)
	cfg.StrictWaiting = getEnvBool(EnvStrictWaiting, cfg.StrictWaiting)
	cfg.ResponseTimeout = getEnvDuration(EnvResponseTimeout, cfg.ResponseTimeout)
	cfg.PollInterval = getEnvDuration(EnvPollInterval, cfg.PollInterval)

	tlsCfg, err := ws.TLSConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	cfg.TLS = tlsCfg

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		// Отсутствие .env не ошибка.
		_ = godotenv.Load()
		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("%w: failed to load env files: %w", ErrConfiguration, err)
	}

	return nil
}

func (c Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf(
			"%w: endpoint is required (set Config.Endpoint or %s)",
			ErrConfiguration,
			EnvEndpoint,
		)
	}

	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Endpoint)

	if c.ConnectionEstablishTimeout <= 0 {
		c.ConnectionEstablishTimeout = def.ConnectionEstablishTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PredicateInterval <= 0 {
		c.PredicateInterval = def.PredicateInterval
	}
	if c.DerivedStateInterval <= 0 {
		c.DerivedStateInterval = def.DerivedStateInterval
	}
	if c.NoMoreWindow <= 0 {
		c.NoMoreWindow = def.NoMoreWindow
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Sink == nil {
		c.Sink = def.Sink
	}
	if c.NewCorrelationID == nil {
		c.NewCorrelationID = def.NewCorrelationID
	}

	return c
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s") and bare milliseconds ("2000").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	return defaultValue
}
