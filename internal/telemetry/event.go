// Package telemetry defines the telemetry event model and its storage.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GPS carries position and movement readings. All fields are optional;
// lat/lon are validated against their coordinate ranges when present.
type GPS struct {
	Lat             *float64 `json:"lat,omitempty"`
	Lon             *float64 `json:"lon,omitempty"`
	Heading         *float64 `json:"heading,omitempty"`
	Altitude        *float64 `json:"altitude,omitempty"`
	SpeedOverGround *float64 `json:"speed_over_ground,omitempty"`
}

// Metrics is the set of readings an aircraft reports in one event. Every
// field is optional; absent fields are omitted from the canonical form so
// they cannot affect the payload fingerprint.
type Metrics struct {
	Speed        *float64 `json:"speed,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	EngineTemp   *float64 `json:"engine_temp,omitempty"`
	OilLevel     *float64 `json:"oil_level,omitempty"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	OutsideTemp  *float64 `json:"outside_temp,omitempty"`
	BrakeStatus  *string  `json:"brake_status,omitempty"`
	GPS          *GPS     `json:"gps,omitempty"`
}

// Event is one telemetry submission. EventID is unique per aircraft; the
// pair (AircraftID, EventID) is the idempotency key.
type Event struct {
	EventID    string    `json:"event_id"`
	AircraftID string    `json:"aircraft_id"`
	TS         time.Time `json:"ts"`
	Metrics    Metrics   `json:"metrics"`
}

// ValidationError reports a field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the event against the ingestion contract. It returns the
// first violation found.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return &ValidationError{Field: "event_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(e.AircraftID) == "" {
		return &ValidationError{Field: "aircraft_id", Message: "must not be empty"}
	}
	if e.TS.IsZero() {
		return &ValidationError{Field: "ts", Message: "must be a valid timestamp"}
	}

	m := &e.Metrics
	if err := inRange("metrics.altitude", m.Altitude, 0, 100); err != nil {
		return err
	}
	if err := inRange("metrics.oil_level", m.OilLevel, 0, 100); err != nil {
		return err
	}
	if err := inRange("metrics.battery_level", m.BatteryLevel, 0, 100); err != nil {
		return err
	}
	if m.GPS != nil {
		if err := inRange("metrics.gps.lat", m.GPS.Lat, -90, 90); err != nil {
			return err
		}
		if err := inRange("metrics.gps.lon", m.GPS.Lon, -180, 180); err != nil {
			return err
		}
	}
	return nil
}

func inRange(field string, v *float64, min, max float64) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %g and %g", min, max),
		}
	}
	return nil
}

// CanonicalJSON returns a deterministic serialization of the event for
// fingerprinting. The timestamp is normalised to UTC and absent metrics are
// omitted, so two submissions with the same content always produce the same
// bytes.
func (e *Event) CanonicalJSON() ([]byte, error) {
	norm := *e
	norm.TS = e.TS.UTC()
	out, err := json.Marshal(&norm)
	if err != nil {
		return nil, fmt.Errorf("canonicalise event: %w", err)
	}
	return out, nil
}
