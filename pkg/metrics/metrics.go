package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry records client-side request and session metrics. Counters live in
// a private prometheus registry; a JSON-friendly per-endpoint aggregate is kept
// alongside for CLI summaries.
type Registry struct {
	prom          *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	sessionEvents *prometheus.CounterVec

	mu       sync.RWMutex
	endpoint map[string]*EndpointStat
	events   map[string]int64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt   string                  `json:"generated_at"`
	Endpoints     map[string]EndpointStat `json:"endpoints"`
	SessionEvents map[string]int64        `json:"session_events"`
}

func NewRegistry() *Registry {
	r := &Registry{
		prom: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publishwed_client_requests_total",
			Help: "Remote API calls by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "publishwed_client_request_seconds",
			Help:    "Remote API call latency by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publishwed_session_events_total",
			Help: "Session lifecycle events by type.",
		}, []string{"type"}),
		endpoint: map[string]*EndpointStat{},
		events:   map[string]int64{},
	}
	r.prom.MustRegister(r.requests, r.latency, r.sessionEvents)
	return r
}

// Observe records one remote call. A status of 0 marks a transport failure.
func (r *Registry) Observe(endpoint string, status int, d time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.requests.WithLabelValues(endpoint, code).Inc()
	r.latency.WithLabelValues(endpoint).Observe(d.Seconds())

	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[endpoint]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[endpoint] = stat
	}
	stat.Count++
	if status == 0 || status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncSessionEvent(eventType string) {
	if eventType == "" {
		return
	}
	r.sessionEvents.WithLabelValues(eventType).Inc()
	r.mu.Lock()
	r.events[eventType]++
	r.mu.Unlock()
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.prom }

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Endpoints:     make(map[string]EndpointStat, len(r.endpoint)),
		SessionEvents: make(map[string]int64, len(r.events)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.events {
		out.SessionEvents[k] = v
	}
	return out
}

// Summary renders the snapshot as aligned text lines.
func (r *Registry) Summary() string {
	snap := r.Snapshot()
	b := &strings.Builder{}
	for _, ep := range SortedKeys(snap.Endpoints) {
		stat := snap.Endpoints[ep]
		fmt.Fprintf(b, "%-32s count=%d errors=%d avg_ms=%.1f max_ms=%d last=%d\n",
			ep, stat.Count, stat.ErrorCount, stat.AverageMillis, stat.MaxMillis, stat.LastStatusCode)
	}
	for _, evt := range SortedKeys(snap.SessionEvents) {
		fmt.Fprintf(b, "%-32s events=%d\n", evt, snap.SessionEvents[evt])
	}
	return b.String()
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
