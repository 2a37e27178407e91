package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Probe checks a single dependency.
type Probe func(ctx context.Context) error

// Check names a dependency probe and bounds it with a timeout.
type Check struct {
	Name    string
	Probe   Probe
	Timeout time.Duration
}

var shuttingDown atomic.Bool

// SetReady toggles readiness. The API marks itself not ready while draining
// connections during shutdown.
func SetReady(ready bool) {
	shuttingDown.Store(!ready)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently and reports 503 when any fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := !shuttingDown.Load()
	if !healthy {
		status["server"] = "shutting down"
	}
	if len(h.Checks) == 0 {
		healthy = false
		status["server"] = "dependencies unavailable"
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range h.Checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()
			result := "ok"
			if err := runProbe(r.Context(), c); err != nil {
				result = err.Error()
			}
			mu.Lock()
			status[c.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if status[name] != "ok" {
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func runProbe(ctx context.Context, c Check) error {
	if c.Probe == nil {
		return errNotConfigured
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Probe(ctx)
}

type healthError string

func (e healthError) Error() string { return string(e) }

const errNotConfigured = healthError("not configured")
