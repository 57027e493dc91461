package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func tokenHandler(calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   900,
		})
	}
}

func TestObtainToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		tokenHandler(nil)(w, r)
	}))
	defer srv.Close()

	c := MustNew(srv.URL, WithRole("aircraft_standard"))
	tok, err := c.ObtainToken(context.Background())
	if err != nil {
		t.Fatalf("ObtainToken: %v", err)
	}
	if tok != "test-token" {
		t.Fatalf("token = %q", tok)
	}
}

func TestIngestTelemetry_outcomes(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", tokenHandler(&tokenCalls))

	ingests := 0
	mux.HandleFunc("/api/v1/telemetry/ingest", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		ingests++
		w.Header().Set("Content-Type", "application/json")
		switch ingests {
		case 1:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"status": "created", "event_id": "E1"})
		case 2:
			json.NewEncoder(w).Encode(map[string]string{"status": "duplicate", "event_id": "E1"})
		default:
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "IDEMPOTENCY_CONFLICT", "message": "conflict"},
			})
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := MustNew(srv.URL)
	ctx := context.Background()
	event := map[string]any{"event_id": "E1", "aircraft_id": "AC-100"}

	res, err := c.IngestTelemetry(ctx, event)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if res.Status != "created" || res.EventID != "E1" {
		t.Fatalf("first result = %+v", res)
	}

	res, err = c.IngestTelemetry(ctx, event)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res.Status != "duplicate" {
		t.Fatalf("second result = %+v", res)
	}

	if _, err := c.IngestTelemetry(ctx, event); !errors.Is(err, ErrConflict) {
		t.Fatalf("third ingest error = %v, want ErrConflict", err)
	}

	// Token fetched once and reused.
	if got := atomic.LoadInt32(&tokenCalls); got != 1 {
		t.Fatalf("token endpoint called %d times, want 1", got)
	}
}

func TestIngestTelemetry_apiError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", tokenHandler(nil))
	mux.HandleFunc("/api/v1/telemetry/ingest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "PERMISSION_DENIED", "message": "permission denied"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := MustNew(srv.URL)
	_, err := c.IngestTelemetry(context.Background(), map[string]string{"event_id": "E1"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestGetWeatherAndContacts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", tokenHandler(nil))
	mux.HandleFunc("/api/v1/weather/current", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") != "48.85" {
			t.Errorf("lat = %q", r.URL.Query().Get("lat"))
		}
		json.NewEncoder(w).Encode(WeatherReport{Conditions: "clear", Temperature: 18.5})
	})
	mux.HandleFunc("/api/v1/contacts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []Contact{{ID: "GS-1", Callsign: "NORTH"}},
			"total": 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := MustNew(srv.URL)
	ctx := context.Background()

	report, err := c.GetWeather(ctx, 48.85, 2.35)
	if err != nil {
		t.Fatalf("GetWeather: %v", err)
	}
	if report.Conditions != "clear" {
		t.Fatalf("report = %+v", report)
	}

	items, total, err := c.ListContacts(ctx, 1, 50)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].Callsign != "NORTH" {
		t.Fatalf("contacts = %v (total %d)", items, total)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := MustNew(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
