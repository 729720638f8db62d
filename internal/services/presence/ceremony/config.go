package ceremony

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/presence.space/internal/platform/branding"
)

// Purpose describes what an issued challenge may be consumed for.
type Purpose string

const (
	PurposeRegister   Purpose = "register"
	PurposeLogin      Purpose = "login"
	PurposeAttendance Purpose = "attendance"
)

// Valid reports whether the purpose is one of the known ceremony purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegister, PurposeLogin, PurposeAttendance:
		return true
	}
	return false
}

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"PRESENCE_SPACE_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"PRESENCE_SPACE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"PRESENCE_SPACE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"PRESENCE_SPACE_WEBAUTHN_CHALLENGE_TTL"   envDefault:"60s"`
}

// LoadConfigFromEnv returns ceremony configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: branding.AppName,
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8097"},
			ChallengeTTL:  60 * time.Second,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = branding.AppName
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8097"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 60 * time.Second
	}
	return cfg
}
