package autonomy

import (
	"time"
)

// turnMetricsCapacity is the sliding-window size for turn records.
const turnMetricsCapacity = 100

// healthWindow is how many recent records health checks look at.
const healthWindow = 20

// TurnMetric records one completed turn.
type TurnMetric struct {
	StartTime    time.Time
	EndTime      time.Time
	LatencyMs    int64
	TokensBefore int
	TokensAfter  int
	HadError     bool
	ErrorKind    ErrorKind // empty when HadError is false
}

// metricsRing keeps the last turnMetricsCapacity records in arrival order.
type metricsRing struct {
	records []TurnMetric
}

func newMetricsRing() *metricsRing {
	return &metricsRing{records: make([]TurnMetric, 0, turnMetricsCapacity)}
}

// add appends a record, evicting the oldest past capacity.
func (r *metricsRing) add(m TurnMetric) {
	r.records = append(r.records, m)
	if len(r.records) > turnMetricsCapacity {
		r.records = r.records[1:]
	}
}

// len returns the number of retained records.
func (r *metricsRing) len() int { return len(r.records) }

// recent returns the last n records (fewer if not enough).
func (r *metricsRing) recent(n int) []TurnMetric {
	if n > len(r.records) {
		n = len(r.records)
	}
	return r.records[len(r.records)-n:]
}

// errorRate computes the failing fraction of the last n records.
func (r *metricsRing) errorRate(n int) float64 {
	recent := r.recent(n)
	if len(recent) == 0 {
		return 0
	}
	errs := 0
	for _, m := range recent {
		if m.HadError {
			errs++
		}
	}
	return float64(errs) / float64(len(recent))
}

// avgLatencyMs computes mean latency of the last n records.
func (r *metricsRing) avgLatencyMs(n int) float64 {
	recent := r.recent(n)
	if len(recent) == 0 {
		return 0
	}
	var total int64
	for _, m := range recent {
		total += m.LatencyMs
	}
	return float64(total) / float64(len(recent))
}

// HealthReport summarizes recent turn health for an agent.
type HealthReport struct {
	TurnsRecorded   int
	ErrorRate       float64
	AvgLatencyMs    float64
	Utilization     float64
	Degraded        bool
	DegradedReasons []string
	DisabledTools   []string
	Warnings        []string
}
