package logic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnavailable is returned for readings that are missing, unknown or non-numeric.
var ErrUnavailable = errors.New("reading unavailable")

// StateReader reads the last known raw value of an entity.
type StateReader interface {
	Value(entity string) (string, bool)
}

// Store keeps the last known raw value of each entity.
// Not safe for concurrent use; the event loop owns it.
type Store struct {
	values map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

// Apply records a new value and returns the resulting change.
// ok is false when the value is identical to the one already held.
func (s *Store) Apply(entity, value string) (change Change, ok bool) {
	old, seen := s.values[entity]
	if seen && old == value {
		return Change{}, false
	}
	s.values[entity] = value
	return Change{Entity: entity, Old: old, New: value}, true
}

// Value returns the last known value of entity.
func (s *Store) Value(entity string) (string, bool) {
	v, ok := s.values[entity]
	return v, ok
}

// ParseReading converts a raw entity state to a number.
func ParseReading(raw string) (float64, error) {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "", "unknown", "unavailable", "none":
		return 0, ErrUnavailable
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrUnavailable, raw)
	}
	return f, nil
}

// Readings are the validated sensor values for one evaluation.
// Humidity fields are zero in temperature mode.
type Readings struct {
	Bathroom Zone
	Living   Zone
}

// ReadSnapshot reads every sensor the mode needs. Either all readings are valid
// or an error naming each invalid entity is returned.
func ReadSnapshot(r StateReader, cfg Config) (Readings, error) {
	var (
		out  Readings
		errs []error
	)
	read := func(entity string, dst *float64) {
		raw, _ := r.Value(entity)
		v, err := ParseReading(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entity, err))
			return
		}
		*dst = v
	}

	if cfg.Mode != ModeTemperature {
		read(cfg.Entities.BathroomHumidity, &out.Bathroom.Humidity)
	}
	read(cfg.Entities.BathroomTemperature, &out.Bathroom.Temperature)
	if cfg.Mode != ModeTemperature {
		read(cfg.Entities.LivingHumidity, &out.Living.Humidity)
	}
	read(cfg.Entities.LivingTemperature, &out.Living.Temperature)

	if len(errs) > 0 {
		return Readings{}, errors.Join(errs...)
	}
	return out, nil
}

// Differential computes the configured differential for r.
func (r Readings) Differential(cfg Config) float64 {
	if cfg.Mode == ModeTemperature {
		return r.Bathroom.Temperature - r.Living.Temperature
	}
	return Differential(r.Bathroom, r.Living, cfg.Unit)
}
