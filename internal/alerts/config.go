// Package alerts derives stock-level bands from consumption history and
// classifies live stock and expiry dates against them.
package alerts

import (
	"fmt"

	"github.com/anesthmed/anesthmed/internal/shared"
)

// Coefficients are the "months of stock on hand" multipliers applied to CMM.
type Coefficients struct {
	Normal      float64 `json:"normal"`
	Low         float64 `json:"low"`
	Critical    float64 `json:"critical"`
	MinAbsolute int     `json:"minAbsolute"`
}

// DefaultCoefficients returns the factory coefficients.
func DefaultCoefficients() Coefficients {
	return Coefficients{Normal: 2.0, Low: 1.5, Critical: 1.0, MinAbsolute: 2}
}

// StaticThresholds is the legacy fixed configuration.
type StaticThresholds struct {
	Low      int `json:"LOW"`
	Critical int `json:"CRITICAL"`
}

// DefaultStatic returns the legacy factory thresholds.
func DefaultStatic() StaticThresholds {
	return StaticThresholds{Low: 10, Critical: 5}
}

// Config is the alert configuration loaded once per request and passed
// explicitly to every threshold computation.
type Config struct {
	Coefficients   Coefficients     `json:"coefficients"`
	Static         StaticThresholds `json:"staticThresholds"`
	DynamicEnabled bool             `json:"dynamicEnabled"`
}

// DefaultConfig returns the configuration used when nothing is persisted.
func DefaultConfig() Config {
	return Config{
		Coefficients:   DefaultCoefficients(),
		Static:         DefaultStatic(),
		DynamicEnabled: true,
	}
}

// ErrInvalidConfig marks a rejected configuration update.
var ErrInvalidConfig = fmt.Errorf("alerts: invalid configuration: %w", shared.ErrValidation)

// Validate checks coefficient and threshold sanity.
func (c Config) Validate() error {
	co := c.Coefficients
	if co.Normal <= 0 || co.Low <= 0 || co.Critical <= 0 {
		return fmt.Errorf("%w: coefficients must be positive", ErrInvalidConfig)
	}
	if co.Critical > co.Low || co.Low > co.Normal {
		return fmt.Errorf("%w: coefficients must satisfy critical <= low <= normal", ErrInvalidConfig)
	}
	if co.MinAbsolute < 0 {
		return fmt.Errorf("%w: minimum absolute threshold cannot be negative", ErrInvalidConfig)
	}
	if c.Static.Critical < 0 || c.Static.Low < c.Static.Critical {
		return fmt.Errorf("%w: static thresholds must satisfy 0 <= CRITICAL <= LOW", ErrInvalidConfig)
	}
	return nil
}
