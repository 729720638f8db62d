package geofence

import "github.com/louisbranch/presence.space/internal/platform/config"

// Config controls the attendance geofence reference point.
type Config struct {
	ReferenceLat  float64 `env:"PRESENCE_SPACE_ATTENDANCE_LAT"`
	ReferenceLong float64 `env:"PRESENCE_SPACE_ATTENDANCE_LONG"`
	RadiusMeters  float64 `env:"PRESENCE_SPACE_GEOFENCE_RADIUS_M" envDefault:"100"`
}

// LoadConfigFromEnv returns geofence configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{RadiusMeters: 100}
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = 100
	}
	return cfg
}

// NewValidatorFromConfig builds a validator for the configured fence.
func NewValidatorFromConfig(cfg Config) (*Validator, error) {
	return NewValidator(Location{Latitude: cfg.ReferenceLat, Longitude: cfg.ReferenceLong}, cfg.RadiusMeters)
}
