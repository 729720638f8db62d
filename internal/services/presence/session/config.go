package session

import (
	"time"

	"github.com/louisbranch/presence.space/internal/platform/config"
)

// CookieName is the browser cookie carrying the signed session token.
const CookieName = "presence_session"

// Config controls session lifetime and token signing.
type Config struct {
	TTL    time.Duration `env:"PRESENCE_SPACE_SESSION_TTL"    envDefault:"2h"`
	Secret string        `env:"PRESENCE_SPACE_SESSION_SECRET"`
}

// LoadConfigFromEnv returns session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{TTL: 2 * time.Hour}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return cfg
}
