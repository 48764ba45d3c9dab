// Package metrics holds the prometheus collectors for a deploy run. A CLI
// run has no scrape endpoint, so the registry is exported either to a
// node_exporter textfile or to a pushgateway when the run ends.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/keithlinneman/s3deploy/internal/version"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

const namespace = "s3deploy"

// upload results used as the "result" label
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDryRun  = "dry_run"
)

type DeployMetrics struct {
	reg *prometheus.Registry

	uploadsTotal     *prometheus.CounterVec
	uploadBytesTotal prometheus.Counter
	uploadDuration   prometheus.Histogram
	filesModified    prometheus.Gauge
	listErrorsTotal  prometheus.Counter
	runDuration      *prometheus.GaugeVec
	lastSuccessTs    prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
}

// New returns a fresh registry with the deploy collectors registered.
// Go and process collectors are not registered.
func New() *DeployMetrics {
	reg := prometheus.NewRegistry()

	m := &DeployMetrics{
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by result",
		}, []string{"result"}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes uploaded successfully",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time to upload a single object",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		filesModified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_modified",
			Help:      "Files selected by the freshness filter in the last run",
		}),
		listErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_errors_total",
			Help:      "Bucket listing failures",
		}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run by command",
		}, []string{"command"}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last run that finished without error",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
	}
	reg.MustRegister(
		m.uploadsTotal,
		m.uploadBytesTotal,
		m.uploadDuration,
		m.filesModified,
		m.listErrorsTotal,
		m.runDuration,
		m.lastSuccessTs,
		m.buildInfo,
	)
	m.reg = reg
	return m
}

func (m *DeployMetrics) Registry() *prometheus.Registry { return m.reg }

// set once at startup.
func (m *DeployMetrics) SetBuildInfo(vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"vcs_dirty":  dirty,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *DeployMetrics) ObserveUpload(result string, bytes int64, d time.Duration) {
	m.uploadsTotal.WithLabelValues(result).Inc()
	if result != ResultSuccess {
		return
	}
	m.uploadBytesTotal.Add(float64(bytes))
	m.uploadDuration.Observe(d.Seconds())
}

func (m *DeployMetrics) SetFilesModified(n int) {
	m.filesModified.Set(float64(n))
}

func (m *DeployMetrics) IncListError() {
	m.listErrorsTotal.Inc()
}

// ObserveRun records the run duration and, on success, the completion time.
func (m *DeployMetrics) ObserveRun(command string, d time.Duration, err error) {
	m.runDuration.WithLabelValues(command).Set(d.Seconds())
	if err == nil {
		m.lastSuccessTs.SetToCurrentTime()
	}
}

// WriteTextfile writes the registry in text exposition format for the
// node_exporter textfile collector. The write is atomic.
func (m *DeployMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return xerrors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}

// Push sends the registry to a pushgateway under job, grouped by instance.
func (m *DeployMetrics) Push(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(m.reg)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return xerrors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}
