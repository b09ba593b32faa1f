// Package metrics builds the tally root scope used by the persistence service.
package metrics

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/uber-go/tally/v4"
)

// Config holds the metrics settings
type Config struct {
	Enabled        bool
	Prefix         string
	ReportInterval time.Duration
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitMetricScope initialize a root scope and its closer. When metrics are
// disabled the scope is a no-op. Otherwise values are flushed to the logger
// every ReportInterval and once more on Close.
func InitMetricScope(cfg Config, lgr zerolog.Logger) (tally.Scope, io.Closer) {
	if !cfg.Enabled {
		return tally.NoopScope, nopCloser{}
	}
	// tally panics if scope name contains "-", hence force convert to "_"
	prefix := strings.ReplaceAll(cfg.Prefix, "-", "_")
	interval := cfg.ReportInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:    prefix,
		Tags:      map[string]string{},
		Reporter:  NewLogReporter(lgr),
		Separator: ".",
	}, interval)
}

// LogReporter is a tally.StatsReporter writing every reported value as a
// debug log line. Counters are reported as deltas since the last flush.
type LogReporter struct {
	logger zerolog.Logger
}

var _ tally.StatsReporter = (*LogReporter)(nil)

// NewLogReporter creates a reporter logging to lgr
func NewLogReporter(lgr zerolog.Logger) *LogReporter {
	return &LogReporter{logger: lgr.With().Str("component", "metrics").Logger()}
}

func (r *LogReporter) event(kind, name string, tags map[string]string) *zerolog.Event {
	ev := r.logger.Debug().Str("type", kind).Str("metric", name)
	if len(tags) > 0 {
		ev = ev.Fields(tagFields(tags))
	}
	return ev
}

func tagFields(tags map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(tags))
	for k, v := range tags {
		out["tag."+k] = v
	}
	return out
}

// ReportCounter implements tally.StatsReporter
func (r *LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	r.event("counter", name, tags).Int64("value", value).Msg("Metric reported")
}

// ReportGauge implements tally.StatsReporter
func (r *LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.event("gauge", name, tags).Float64("value", value).Msg("Metric reported")
}

// ReportTimer implements tally.StatsReporter
func (r *LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.event("timer", name, tags).Dur("value", interval).Msg("Metric reported")
}

// ReportHistogramValueSamples implements tally.StatsReporter
func (r *LogReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	bucketLowerBound,
	bucketUpperBound float64,
	samples int64,
) {
	r.event("histogram", name, tags).
		Float64("lower", bucketLowerBound).
		Float64("upper", bucketUpperBound).
		Int64("samples", samples).
		Msg("Metric reported")
}

// ReportHistogramDurationSamples implements tally.StatsReporter
func (r *LogReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	bucketLowerBound,
	bucketUpperBound time.Duration,
	samples int64,
) {
	r.event("histogram", name, tags).
		Dur("lower", bucketLowerBound).
		Dur("upper", bucketUpperBound).
		Int64("samples", samples).
		Msg("Metric reported")
}

// Capabilities implements tally.StatsReporter
func (r *LogReporter) Capabilities() tally.Capabilities {
	return r
}

// Reporting implements tally.Capabilities
func (r *LogReporter) Reporting() bool { return true }

// Tagging implements tally.Capabilities
func (r *LogReporter) Tagging() bool { return true }

// Flush implements tally.StatsReporter
func (r *LogReporter) Flush() {}
