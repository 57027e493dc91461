package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func validEvent() *Event {
	return &Event{
		EventID:    "E1",
		AircraftID: "AC-100",
		TS:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Metrics: Metrics{
			Speed:    f(45.5),
			Altitude: f(75.0),
		},
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Event)
		wantField string
	}{
		{"valid", func(*Event) {}, ""},
		{"empty event id", func(e *Event) { e.EventID = "" }, "event_id"},
		{"blank event id", func(e *Event) { e.EventID = "   " }, "event_id"},
		{"empty aircraft id", func(e *Event) { e.AircraftID = "" }, "aircraft_id"},
		{"zero timestamp", func(e *Event) { e.TS = time.Time{} }, "ts"},
		{"altitude too high", func(e *Event) { e.Metrics.Altitude = f(150) }, "metrics.altitude"},
		{"altitude negative", func(e *Event) { e.Metrics.Altitude = f(-1) }, "metrics.altitude"},
		{"altitude at bound ok", func(e *Event) { e.Metrics.Altitude = f(100) }, ""},
		{"oil level out of range", func(e *Event) { e.Metrics.OilLevel = f(101) }, "metrics.oil_level"},
		{"battery out of range", func(e *Event) { e.Metrics.BatteryLevel = f(-0.5) }, "metrics.battery_level"},
		{"lat too high", func(e *Event) { e.Metrics.GPS = &GPS{Lat: f(90.5)} }, "metrics.gps.lat"},
		{"lat at bound ok", func(e *Event) { e.Metrics.GPS = &GPS{Lat: f(-90)} }, ""},
		{"lon too low", func(e *Event) { e.Metrics.GPS = &GPS{Lon: f(-180.1)} }, "metrics.gps.lon"},
		{"no metrics ok", func(e *Event) { e.Metrics = Metrics{} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)
			err := event.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestEvent_CanonicalJSONDeterministic(t *testing.T) {
	a := validEvent()
	b := validEvent()

	ja, err := a.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	jb, err := b.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if !bytes.Equal(ja, jb) {
		t.Fatal("identical events produced different canonical bytes")
	}
}

func TestEvent_CanonicalJSONNormalisesTimezone(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	a := validEvent()
	b := validEvent()
	b.TS = a.TS.In(paris)

	ja, _ := a.CanonicalJSON()
	jb, _ := b.CanonicalJSON()
	if !bytes.Equal(ja, jb) {
		t.Fatal("same instant in different zones produced different canonical bytes")
	}
}

func TestEvent_CanonicalJSONSensitiveToContent(t *testing.T) {
	a := validEvent()
	b := validEvent()
	b.Metrics.Speed = f(120.0)

	ja, _ := a.CanonicalJSON()
	jb, _ := b.CanonicalJSON()
	if bytes.Equal(ja, jb) {
		t.Fatal("different payloads produced identical canonical bytes")
	}
}

func TestMemoryRepository_roundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	event := validEvent()

	if err := repo.Save(ctx, event); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(ctx, "AC-100", "E1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EventID != "E1" || got.AircraftID != "AC-100" {
		t.Fatalf("got key (%s, %s)", got.AircraftID, got.EventID)
	}
	if got.Metrics.Speed == nil || *got.Metrics.Speed != 45.5 {
		t.Fatalf("speed = %v, want 45.5", got.Metrics.Speed)
	}

	if _, err := repo.Get(ctx, "AC-100", "E2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, "AC-200", "E1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get other aircraft = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_listNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"E1", "E2", "E3"} {
		event := validEvent()
		event.EventID = id
		event.TS = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Save(ctx, event); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	other := validEvent()
	other.AircraftID = "AC-200"
	other.EventID = "E9"
	if err := repo.Save(ctx, other); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	events, err := repo.List(ctx, "AC-100", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].EventID != "E3" || events[1].EventID != "E2" {
		t.Fatalf("order = [%s, %s], want [E3, E2]", events[0].EventID, events[1].EventID)
	}
}
