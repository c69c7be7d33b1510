// Package metrics exposes health and backup outcomes as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// Recorder implements health.Observer and backup.Observer. Each Recorder owns
// its registry so tests and multiple instances never collide.
type Recorder struct {
	reg *prometheus.Registry

	probeStatus   *prometheus.GaugeVec
	probeDuration *prometheus.HistogramVec
	overall       prometheus.Gauge
	healthRuns    *prometheus.CounterVec
	artifacts     *prometheus.CounterVec
	relayUploads  *prometheus.CounterVec
	lastBackupOK  prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		probeStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipewatch_probe_status",
			Help: "Last status per probe: 0 healthy, 1 degraded, 2 unhealthy",
		}, []string{"probe"}),
		probeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipewatch_probe_duration_seconds",
			Help:    "Probe evaluation time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"probe"}),
		overall: f.NewGauge(prometheus.GaugeOpts{
			Name: "pipewatch_health_overall_status",
			Help: "Overall status of the last health run: 0 healthy, 1 degraded, 2 unhealthy",
		}),
		healthRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_health_runs_total",
			Help: "Health runs by overall status",
		}, []string{"status"}),
		artifacts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_backup_artifacts_total",
			Help: "Backup artifacts by category and outcome",
		}, []string{"category", "outcome"}),
		relayUploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_relay_uploads_total",
			Help: "Remote relay attempts by outcome",
		}, []string{"outcome"}),
		lastBackupOK: f.NewGauge(prometheus.GaugeOpts{
			Name: "pipewatch_backup_last_succeeded",
			Help: "1 if the last backup run captured every artifact, else 0",
		}),
	}
}

func (r *Recorder) ObserveProbe(res domain.CheckResult, took time.Duration) {
	r.probeStatus.WithLabelValues(res.Name).Set(float64(res.Effective().Rank()))
	r.probeDuration.WithLabelValues(res.Name).Observe(took.Seconds())
}

func (r *Recorder) ObserveReport(rep domain.HealthReport) {
	r.overall.Set(float64(rep.OverallStatus.Rank()))
	r.healthRuns.WithLabelValues(string(rep.OverallStatus)).Inc()
}

func (r *Recorder) ObserveBackup(rep domain.BackupReport) {
	for _, a := range rep.Artifacts {
		r.artifacts.WithLabelValues(a.Category, outcome(a.Succeeded)).Inc()
		if a.RemoteUploaded != nil {
			r.relayUploads.WithLabelValues(outcome(*a.RemoteUploaded)).Inc()
		}
	}
	if rep.OverallSucceeded {
		r.lastBackupOK.Set(1)
	} else {
		r.lastBackupOK.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
