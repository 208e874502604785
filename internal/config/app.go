package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dense-identity/softphone/internal/phone"
)

const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// App is the softphone process configuration.
type App struct {
	// Signaling engine
	BaresipAddr    string        `env:"BARESIP_ADDR" envDefault:"localhost:4444"`
	BaresipTimeout time.Duration `env:"BARESIP_TIMEOUT" envDefault:"2s"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	RegInterval    int           `env:"REG_INTERVAL" envDefault:"600"`
	SipTransport   string        `env:"SIP_TRANSPORT" envDefault:"udp"`

	// Config store
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"file"`
	StoreDir      string `env:"STORE_DIR" envDefault:".softphone"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisUser     string `env:"REDIS_USER" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"softphone:v1"`

	// Local surfaces; empty disables
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8089"`
	HealthAddr string `env:"HEALTH_ADDR" envDefault:""`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	Locale    string `env:"LOCALE" envDefault:"en"`

	// Calls
	OutboundRingback     bool   `env:"OUTBOUND_RINGBACK" envDefault:"false"`
	SpeakerDevice        string `env:"AUDIO_SPEAKER_DEVICE" envDefault:""`
	EarpieceDevice       string `env:"AUDIO_EARPIECE_DEVICE" envDefault:""`
	TerminatedCallMemory int    `env:"TERMINATED_CALL_MEMORY" envDefault:"128"`
}

// Load reads App from the environment after loading any .env file.
func Load() (*App, error) {
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg, err := New[App]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *App) Validate() error {
	if cfg == nil {
		return errors.New("nil config")
	}
	switch cfg.StoreBackend {
	case StoreFile:
		if cfg.StoreDir == "" {
			return errors.New("STORE_DIR is required for the file store")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if !phone.Locale(cfg.Locale).Valid() {
		return fmt.Errorf("unsupported LOCALE %q", cfg.Locale)
	}
	if cfg.TerminatedCallMemory <= 0 {
		return errors.New("TERMINATED_CALL_MEMORY must be positive")
	}
	return nil
}
