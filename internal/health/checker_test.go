package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestProbe_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if !checker.probe(context.Background(), srv.URL) {
		t.Error("expected probe to succeed")
	}
}

func TestProbe_failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if checker.probe(context.Background(), srv.URL) {
		t.Error("expected probe to fail")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var transitions []bool
	checker := New([]Upstream{{Name: "telemetry", URL: srv.URL}}, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetTransition(func(_ string, healthy bool) {
		transitions = append(transitions, healthy)
	})

	// Still healthy below the threshold.
	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if !checker.Healthy() {
		t.Fatal("degraded before threshold")
	}

	checker.CheckAll(context.Background())
	if checker.Healthy() {
		t.Fatal("still healthy after threshold")
	}
	if len(transitions) != 1 || transitions[0] {
		t.Fatalf("transitions = %v, want one degradation", transitions)
	}

	st := checker.Snapshot()
	if len(st) != 1 || st[0].Name != "telemetry" || st[0].FailCount != 3 {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	// HEAD always fails so the probe falls through to GET; the first three
	// GETs fail, then the upstream comes back.
	failCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if failCount < 3 {
			failCount++
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var recovered bool
	checker := New([]Upstream{{Name: "weather", URL: srv.URL}}, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetTransition(func(_ string, healthy bool) {
		if healthy {
			recovered = true
		}
	})

	// Fail three times, then succeed.
	for i := 0; i < 4; i++ {
		checker.CheckAll(context.Background())
	}

	if !checker.Healthy() {
		t.Fatal("expected healthy after recovery")
	}
	if !recovered {
		t.Fatal("recovery transition not reported")
	}
	if st := checker.Snapshot(); st[0].LastSeen.IsZero() {
		t.Fatal("last seen not recorded on success")
	}
}
