package telemetry

import (
	"fmt"
	"strings"
)

// ValidationError reports a rejected simulation configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Limits bound accepted configurations. Zero values disable a bound.
type Limits struct {
	MaxTrafficVolume int64
	MaxDuration      int64
}

// Normalize fills defaults that are allowed to be omitted.
func (c *SimulationConfig) Normalize() {
	if c.Interval == 0 {
		c.Interval = 1
	}
	c.Pattern = Pattern(strings.TrimSpace(string(c.Pattern)))
	if c.Pattern == "" {
		c.Pattern = PatternConstant
	}
}

// Validate checks c against the run configuration rules and lim.
func (c SimulationConfig) Validate(lim Limits) error {
	if c.TrafficVolume <= 0 {
		return &ValidationError{Field: "traffic_volume", Reason: "must be positive"}
	}
	if lim.MaxTrafficVolume > 0 && c.TrafficVolume > lim.MaxTrafficVolume {
		return &ValidationError{Field: "traffic_volume", Reason: fmt.Sprintf("must not exceed %d", lim.MaxTrafficVolume)}
	}
	if c.Duration <= 0 {
		return &ValidationError{Field: "duration", Reason: "must be positive"}
	}
	if lim.MaxDuration > 0 && c.Duration > lim.MaxDuration {
		return &ValidationError{Field: "duration", Reason: fmt.Sprintf("must not exceed %d seconds", lim.MaxDuration)}
	}
	if c.Interval <= 0 {
		return &ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if !c.Pattern.Valid() {
		return &ValidationError{Field: "pattern", Reason: fmt.Sprintf("unknown pattern %q", c.Pattern)}
	}
	return nil
}
