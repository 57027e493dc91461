// Package health probes the upstream services the gateway fronts and keeps a
// per-upstream status snapshot for the health endpoint.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds probe configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Upstream is one probed service.
type Upstream struct {
	Name string
	URL  string // health endpoint of the upstream
}

// Status is the current view of one upstream.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	FailCount int       `json:"fail_count"`
	LastSeen  time.Time `json:"last_seen"`
}

// TransitionFunc is an optional callback invoked when an upstream crosses the
// fail threshold in either direction.
type TransitionFunc func(name string, healthy bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker runs periodic upstream health probes.
type Checker struct {
	upstreams  []Upstream
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger

	mu         sync.Mutex
	failCounts map[string]int
	statuses   map[string]Status

	onTransition TransitionFunc
	onMetrics    MetricsRecordFunc
}

// New creates a Checker for the given upstreams.
func New(upstreams []Upstream, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	statuses := make(map[string]Status, len(upstreams))
	for _, u := range upstreams {
		// Optimistic until the first probe says otherwise.
		statuses[u.Name] = Status{Name: u.Name, Healthy: true}
	}

	return &Checker{
		upstreams:  upstreams,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:        cfg,
		logger:     logger,
		failCounts: make(map[string]int),
		statuses:   statuses,
	}
}

// SetTransition configures the threshold-crossing callback.
func (h *Checker) SetTransition(fn TransitionFunc) {
	h.onTransition = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the probe loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, h.cfg.CheckInterval-time.Second)
			h.CheckAll(probeCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every upstream with bounded concurrency.
func (h *Checker) CheckAll(ctx context.Context) {
	sem := make(chan struct{}, 4)
	var wg sync.WaitGroup

	for _, u := range h.upstreams {
		wg.Add(1)
		go func(up Upstream) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success := h.probe(ctx, up.URL)
			if h.onMetrics != nil {
				h.onMetrics(success)
			}
			h.record(up.Name, success)
		}(u)
	}

	wg.Wait()
}

func (h *Checker) record(name string, success bool) {
	h.mu.Lock()
	prev := h.failCounts[name]
	if success {
		h.failCounts[name] = 0
	} else {
		h.failCounts[name]++
	}
	count := h.failCounts[name]

	st := h.statuses[name]
	st.FailCount = count
	if success {
		st.Healthy = true
		st.LastSeen = time.Now().UTC()
	} else if count >= h.cfg.FailThreshold {
		st.Healthy = false
	}
	h.statuses[name] = st
	h.mu.Unlock()

	switch {
	case success && prev >= h.cfg.FailThreshold:
		h.logger.Info("upstream recovered", zap.String("upstream", name))
		if h.onTransition != nil {
			h.onTransition(name, true)
		}
	case !success && count == h.cfg.FailThreshold:
		h.logger.Warn("upstream degraded",
			zap.String("upstream", name),
			zap.Int("fail_count", count),
		)
		if h.onTransition != nil {
			h.onTransition(name, false)
		}
	}
}

// Snapshot returns the current status of every upstream.
func (h *Checker) Snapshot() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Status, 0, len(h.upstreams))
	for _, u := range h.upstreams {
		out = append(out, h.statuses[u.Name])
	}
	return out
}

// Healthy reports whether every upstream is currently healthy.
func (h *Checker) Healthy() bool {
	for _, st := range h.Snapshot() {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// probe attempts HEAD then GET, returning true on any 2xx response.
func (h *Checker) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
