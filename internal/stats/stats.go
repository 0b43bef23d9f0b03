// Package stats collects per-run counters of the mask pipeline and exposes
// them in Prometheus text format.
package stats

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/l3aro/go-mask-analysis/pkg/mask"
)

// Recorder owns a metrics set for one CLI invocation.
type Recorder struct {
	set *metrics.Set

	fixtures     *metrics.Counter
	failures     *metrics.Counter
	materialized *metrics.Counter
	cacheHits    *metrics.Counter
	cacheMisses  *metrics.Counter
	mismatches   *metrics.Counter
	duration     *metrics.Histogram
}

// New returns a Recorder with its counters registered.
func New() *Recorder {
	s := metrics.NewSet()
	return &Recorder{
		set:          s,
		fixtures:     s.NewCounter(`gma_fixtures_analyzed_total`),
		failures:     s.NewCounter(`gma_fixtures_failed_total`),
		materialized: s.NewCounter(`gma_mask_values_materialized_total`),
		cacheHits:    s.NewCounter(`gma_cache_requests_total{result="hit"}`),
		cacheMisses:  s.NewCounter(`gma_cache_requests_total{result="miss"}`),
		mismatches:   s.NewCounter(`gma_determinism_mismatches_total`),
		duration:     s.NewHistogram(`gma_analysis_duration_seconds`),
	}
}

// Analyzed records one analyzed fixture with its graph statistics.
func (r *Recorder) Analyzed(st mask.Stats, took time.Duration) {
	r.fixtures.Inc()
	r.materialized.Add(st.Materialized)
	r.duration.Update(took.Seconds())
	for kind, n := range st.ByKind {
		r.set.GetOrCreateCounter(fmt.Sprintf(`gma_mask_nodes_total{kind=%q}`, kind)).Add(n)
	}
	r.set.GetOrCreateCounter(`gma_loops_total`).Add(st.Loops)
	r.set.GetOrCreateCounter(`gma_loop_exits_total`).Add(st.Exits)
}

// Failed records a fixture that could not be loaded or analyzed.
func (r *Recorder) Failed() { r.failures.Inc() }

// CacheLookup records a snapshot cache lookup.
func (r *Recorder) CacheLookup(hit bool) {
	if hit {
		r.cacheHits.Inc()
		return
	}
	r.cacheMisses.Inc()
}

// Mismatch records a fingerprint that differs from the cached one.
func (r *Recorder) Mismatch() { r.mismatches.Inc() }

// Counter returns the current value of the named counter, or 0 if it was
// never created.
func (r *Recorder) Counter(name string) uint64 {
	return r.set.GetOrCreateCounter(name).Get()
}

// WritePrometheus writes all metrics in Prometheus text format.
func (r *Recorder) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}
