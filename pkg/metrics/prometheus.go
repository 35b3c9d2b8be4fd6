package metrics

/* adapted from https://github.com/zsais/go-gin-prometheus
edits:
- zap logger instead of the stdlib logger
- dedicated http.Server for the metrics listener
- no push gateway, no basic auth
*/

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var reqCnt = &Metric{
	ID:          "reqCnt",
	Name:        "req_total",
	Description: "How many HTTP requests processed, partitioned by status code and HTTP method.",
	Type:        "counter_vec",
	Args:        []string{"code", "method", "url", "ref"}}

var reqDur = &Metric{
	ID:          "reqDur",
	Name:        "req_dur_ms",
	Description: "The HTTP request latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var resSz = &Metric{
	ID:          "resSz",
	Name:        "resp_sz_bytes",
	Description: "The HTTP response sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var reqSz = &Metric{
	ID:          "reqSz",
	Name:        "req_sz_bytes",
	Description: "The HTTP request sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var defaultMetricPath = "/metrics"

// RequestCounterURLLabelMappingFn controls the cardinality of the "url" label,
// e.g. mapping "/api/v1/admin/jobs/expire-trials/run" to its route template.
type RequestCounterURLLabelMappingFn func(c *gin.Context) string

// Prometheus contains the HTTP metrics and the optional dedicated listener.
type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	srv         *http.Server
	MetricsPath string

	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn

	logger *zap.SugaredLogger
}

type NewPrometheusOptions struct {
	Registerer              prometheus.Registerer
	MetricsPath             string
	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn
	Logger                  *zap.SugaredLogger
}

// NewPrometheus registers the HTTP metrics.
func NewPrometheus(options NewPrometheusOptions) (*Prometheus, error) {
	p := &Prometheus{
		MetricsPath:             options.MetricsPath,
		ReqCntURLLabelMappingFn: options.ReqCntURLLabelMappingFn,
		logger:                  options.Logger,
	}
	if p.MetricsPath == "" {
		p.MetricsPath = defaultMetricPath
	}
	if p.ReqCntURLLabelMappingFn == nil {
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return c.Request.URL.Path
		}
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	reg := options.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	if p.reqCnt, err = register[*prometheus.CounterVec](reg, reqCnt); err != nil {
		return nil, err
	}
	if p.reqDur, err = register[*prometheus.HistogramVec](reg, reqDur); err != nil {
		return nil, err
	}
	if p.resSz, err = register[*prometheus.SummaryVec](reg, resSz); err != nil {
		return nil, err
	}
	if p.reqSz, err = register[*prometheus.SummaryVec](reg, reqSz); err != nil {
		return nil, err
	}
	return p, nil
}

// Use adds the middleware to a gin engine. When listenAddress is set the
// scrape endpoint is served on its own listener, keeping GET /metrics out of
// the API access log.
func (p *Prometheus) Use(e *gin.Engine, listenAddress string) {
	e.Use(p.HandlerFunc())
	if listenAddress == "" {
		e.GET(p.MetricsPath, gin.WrapH(promhttp.Handler()))
		return
	}
	mux := http.NewServeMux()
	mux.Handle(p.MetricsPath, promhttp.Handler())
	p.srv = &http.Server{Addr: listenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// Start launches the dedicated metrics listener, if any.
func (p *Prometheus) Start() {
	if p.srv == nil {
		return
	}
	go func() {
		if err := p.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Errorw("metrics server stopped", "addr", p.srv.Addr, "err", err)
		}
	}()
}

// Shutdown stops the dedicated metrics listener, if any.
func (p *Prometheus) Shutdown(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}

// HandlerFunc defines handler function for middleware
func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.MetricsPath {
			c.Next()
			return
		}

		start := time.Now()
		reqSz := computeApproximateRequestSize(c.Request)

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		elapsed := MillisecondsSince(start)
		resSz := float64(c.Writer.Size())
		url := p.ReqCntURLLabelMappingFn(c)
		ref := c.Request.Header.Get(RefererKey)

		p.reqDur.WithLabelValues(status, c.Request.Method, url, ref).Observe(elapsed)
		p.reqCnt.WithLabelValues(status, c.Request.Method, url, ref).Inc()
		p.reqSz.WithLabelValues(status, c.Request.Method, url, ref).Observe(float64(reqSz))
		p.resSz.WithLabelValues(status, c.Request.Method, url, ref).Observe(resSz)
	}
}

func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}
	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)
	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}
