package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// HistogramBuckets are latency buckets in milliseconds. Jobs can run for
// minutes, so the tail is longer than a request-only service would need.
var HistogramBuckets = []float64{
	25, 50, 100, 250, 500, 1000, 2500, 5000, 10000,
	30000,  // 30s
	60000,  // 1m
	180000, // 3m
	600000, // 10m
}

const namespace = "knightly"

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	case "counter":
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description,
		})
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets,
		}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description,
		}, m.Args)
	}
	return nil
}

var jobRuns = &Metric{
	ID:          "jobRuns",
	Name:        "job_runs_total",
	Description: "Scheduler job runs, partitioned by job and result.",
	Type:        "counter_vec",
	Args:        []string{"job", "result"},
}

var jobDur = &Metric{
	ID:          "jobDur",
	Name:        "job_dur_ms",
	Description: "Scheduler job duration in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"job"},
}

var billingEvents = &Metric{
	ID:          "billingEvents",
	Name:        "billing_events_total",
	Description: "Billing provider events, partitioned by type and result.",
	Type:        "counter_vec",
	Args:        []string{"type", "result"},
}

var quotaDecisions = &Metric{
	ID:          "quotaDecisions",
	Name:        "quota_decisions_total",
	Description: "Game quota admission decisions.",
	Type:        "counter_vec",
	Args:        []string{"tier", "result"},
}

var notifications = &Metric{
	ID:          "notifications",
	Name:        "notifications_total",
	Description: "Outbound notification attempts.",
	Type:        "counter_vec",
	Args:        []string{"template", "result"},
}

// Recorder records domain metrics. A nil *Recorder is a valid no-op.
type Recorder struct {
	jobRuns        *prometheus.CounterVec
	jobDur         *prometheus.HistogramVec
	billingEvents  *prometheus.CounterVec
	quotaDecisions *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

// NewRecorder registers the domain metrics on reg. Collectors that are
// already registered are reused.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.jobRuns, err = register[*prometheus.CounterVec](reg, jobRuns); err != nil {
		return nil, err
	}
	if r.jobDur, err = register[*prometheus.HistogramVec](reg, jobDur); err != nil {
		return nil, err
	}
	if r.billingEvents, err = register[*prometheus.CounterVec](reg, billingEvents); err != nil {
		return nil, err
	}
	if r.quotaDecisions, err = register[*prometheus.CounterVec](reg, quotaDecisions); err != nil {
		return nil, err
	}
	if r.notifications, err = register[*prometheus.CounterVec](reg, notifications); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, m *Metric) (T, error) {
	c := NewMetric(m, "core")
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			var zero T
			return zero, err
		}
		c = are.ExistingCollector
	}
	m.MetricCollector = c
	return c.(T), nil
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (r *Recorder) JobRun(job string, ok bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.jobRuns.WithLabelValues(job, resultLabel(ok)).Inc()
	r.jobDur.WithLabelValues(job).Observe(float64(elapsed) / float64(time.Millisecond))
}

// BillingEvent counts a processed event; result is handled, ignored, duplicate or error.
func (r *Recorder) BillingEvent(eventType, result string) {
	if r == nil {
		return
	}
	r.billingEvents.WithLabelValues(eventType, result).Inc()
}

func (r *Recorder) QuotaDecision(tier string, allowed bool) {
	if r == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	r.quotaDecisions.WithLabelValues(tier, result).Inc()
}

func (r *Recorder) Notification(template string, ok bool) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(template, resultLabel(ok)).Inc()
}

// MillisecondsSince returns elapsed milliseconds as a float for histograms.
func MillisecondsSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

func newDefaultRecorder() (*Recorder, error) {
	return NewRecorder(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultRecorder),
)

const (
	RefererKey = "X-Referer"
)
