package biometric

import (
	"time"

	"github.com/louisbranch/presence.space/internal/platform/config"
)

// Config controls the external face verifier and enrollment policy.
type Config struct {
	Command           string        `env:"PRESENCE_SPACE_FACE_COMMAND"        envDefault:"python3"`
	ScriptPath        string        `env:"PRESENCE_SPACE_FACE_SCRIPT"         envDefault:"scripts/face_verifier.py"`
	VerifyTimeout     time.Duration `env:"PRESENCE_SPACE_FACE_VERIFY_TIMEOUT" envDefault:"30s"`
	EnrollTimeout     time.Duration `env:"PRESENCE_SPACE_FACE_ENROLL_TIMEOUT" envDefault:"2m"`
	EnrollmentSamples int           `env:"PRESENCE_SPACE_FACE_SAMPLES"        envDefault:"10"`
}

// LoadConfigFromEnv returns biometric configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			Command:           "python3",
			ScriptPath:        "scripts/face_verifier.py",
			VerifyTimeout:     30 * time.Second,
			EnrollTimeout:     2 * time.Minute,
			EnrollmentSamples: 10,
		}
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 30 * time.Second
	}
	if cfg.EnrollTimeout <= 0 {
		cfg.EnrollTimeout = 2 * time.Minute
	}
	if cfg.EnrollmentSamples <= 0 {
		cfg.EnrollmentSamples = 10
	}
	return cfg
}
