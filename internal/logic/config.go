package logic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid controller config")

// DifferentialMode selects what quantity is compared between the two zones.
type DifferentialMode string

const (
	ModeAbsoluteHumidity DifferentialMode = "absolute_humidity"
	ModeTemperature      DifferentialMode = "temperature"
)

// ParseDifferentialMode accepts the mode names above. Empty defaults to absolute humidity.
func ParseDifferentialMode(s string) (DifferentialMode, error) {
	switch DifferentialMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAbsoluteHumidity:
		return ModeAbsoluteHumidity, nil
	case ModeTemperature:
		return ModeTemperature, nil
	}
	return "", fmt.Errorf("unknown differential mode %q", s)
}

// Entities holds the watched entity ids.
type Entities struct {
	Gate                string // optional; empty means always enabled
	BathroomHumidity    string
	BathroomTemperature string
	LivingHumidity      string
	LivingTemperature   string
	Actuator            string
}

// Config is the immutable controller policy.
type Config struct {
	Entities       Entities
	Unit           TemperatureUnit
	Mode           DifferentialMode
	Threshold      float64 // activate above this differential
	LowerThreshold float64 // arm shutoff at or below this differential
	AutoDelay      time.Duration
	ManualDelay    time.Duration
}

// Validate reports every problem with the config at once.
func (c Config) Validate() error {
	var errs []error

	required := []struct {
		name, value string
	}{
		{"bathroom_temperature_sensor", c.Entities.BathroomTemperature},
		{"living_temperature_sensor", c.Entities.LivingTemperature},
		{"actuator", c.Entities.Actuator},
	}
	if c.Mode != ModeTemperature {
		required = append(required,
			struct{ name, value string }{"bathroom_humidity_sensor", c.Entities.BathroomHumidity},
			struct{ name, value string }{"living_humidity_sensor", c.Entities.LivingHumidity},
		)
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	if c.Unit != Fahrenheit && c.Unit != Celsius {
		errs = append(errs, fmt.Errorf("temperature_unit %q must be F or C", c.Unit))
	}
	if c.Mode != ModeAbsoluteHumidity && c.Mode != ModeTemperature {
		errs = append(errs, fmt.Errorf("differential mode %q is not supported", c.Mode))
	}
	if c.LowerThreshold >= c.Threshold {
		errs = append(errs, fmt.Errorf("lower_threshold (%v) must be below threshold (%v)", c.LowerThreshold, c.Threshold))
	}
	if c.AutoDelay < 0 {
		errs = append(errs, fmt.Errorf("auto_delay_seconds must not be negative, got %v", c.AutoDelay))
	}
	if c.ManualDelay < 0 {
		errs = append(errs, fmt.Errorf("manual_delay_seconds must not be negative, got %v", c.ManualDelay))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Watched returns every entity the controller needs notifications for, gate first.
func (c Config) Watched() []string {
	var out []string
	add := func(e string) {
		if e == "" {
			return
		}
		for _, have := range out {
			if have == e {
				return
			}
		}
		out = append(out, e)
	}
	add(c.Entities.Gate)
	if c.Mode != ModeTemperature {
		add(c.Entities.BathroomHumidity)
	}
	add(c.Entities.BathroomTemperature)
	if c.Mode != ModeTemperature {
		add(c.Entities.LivingHumidity)
	}
	add(c.Entities.LivingTemperature)
	add(c.Entities.Actuator)
	return out
}
