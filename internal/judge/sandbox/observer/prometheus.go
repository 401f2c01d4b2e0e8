package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "codejudger"

var (
	// 1ms -> 10s
	timeBuckets = []float64{
		0.001, 0.002, 0.005, 0.010, 0.025, 0.050, 0.1, 0.2,
		0.4, 0.6, 0.8, 1.0, 1.5, 2, 5, 10,
	}
	// 1m -> 4g
	memoryBuckets = prometheus.ExponentialBuckets(1<<20, 2, 13)
	// 100ms -> ~100s
	judgeBuckets = prometheus.ExponentialBuckets(0.1, 2, 11)
)

// PrometheusRecorder exports sandbox metrics to a prometheus registry.
type PrometheusRecorder struct {
	compileTotal  *prometheus.CounterVec
	runTime       *prometheus.HistogramVec
	runMemory     *prometheus.HistogramVec
	judgeTotal    *prometheus.CounterVec
	judgeDuration *prometheus.HistogramVec
	sandboxErrors *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compile_total",
			Help:      "Number of compilations by language and outcome",
		}, []string{"language", "ok"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_time_seconds",
			Help:      "Histogram for the CPU time of test case runs",
			Buckets:   timeBuckets,
		}, []string{"language", "verdict"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_memory_bytes",
			Help:      "Histogram for the peak memory of test case runs",
			Buckets:   memoryBuckets,
		}, []string{"language", "verdict"}),
		judgeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "judge_total",
			Help:      "Number of finished submissions by backend and final status",
		}, []string{"backend", "status"}),
		judgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "judge_duration_seconds",
			Help:      "Wall time spent judging one submission",
			Buckets:   judgeBuckets,
		}, []string{"backend"}),
		sandboxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sandbox_error_total",
			Help:      "Number of sandbox failures",
		}, []string{"backend"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Number of jobs waiting in the judge queue",
		}),
	}
	for _, c := range []prometheus.Collector{
		r.compileTotal, r.runTime, r.runMemory, r.judgeTotal, r.judgeDuration, r.sandboxErrors, r.queueDepth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
	r.compileTotal.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64) {
	r.runTime.WithLabelValues(languageID, verdict).Observe(time.Duration(timeMs * int64(time.Millisecond)).Seconds())
	r.runMemory.WithLabelValues(languageID, verdict).Observe(float64(memoryKB << 10))
}

func (r *PrometheusRecorder) ObserveJudge(ctx context.Context, backend string, status string, elapsed time.Duration) {
	r.judgeTotal.WithLabelValues(backend, status).Inc()
	r.judgeDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) ObserveSandboxError(ctx context.Context, backend string) {
	r.sandboxErrors.WithLabelValues(backend).Inc()
}

func (r *PrometheusRecorder) ObserveQueueDepth(ctx context.Context, depth int64) {
	r.queueDepth.Set(float64(depth))
}
