// Package stats exposes Prometheus metrics for the coordinator, parameter
// server, and worker processes, grounded on the
// registry/gauge/promhttp pattern in synnergy-network's HealthLogger
// (orbas1-Synnergy, internal/../system_health_logging.go).
package stats

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats holds every gauge/counter a running process updates. It owns its
// own registry so a coordinator, a PS, and a worker in the same test binary
// never clash on global metric names.
type Stats struct {
	registry *prometheus.Registry

	epochLoss   prometheus.Gauge
	epochWeight prometheus.Gauge
	epoch       prometheus.Gauge

	pullRequests   prometheus.Counter
	pushRequests   prometheus.Counter
	pullRows       prometheus.Counter
	pushRows       prometheus.Counter
	freqRejections prometheus.Counter
	expiredRows    prometheus.Counter

	filesServed prometheus.Counter
	filesFailed prometheus.Counter
}

// New constructs a Stats registry. role labels the process ("cs", "ps", or
// "wk") in every metric's constant label set so a shared Prometheus
// deployment can distinguish processes scraped behind the same job name.
func New(role string) *Stats {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"role": role}

	s := &Stats{
		registry: reg,
		epochLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "deepx_epoch_loss",
			Help:        "Running loss accumulated over the current epoch.",
			ConstLabels: labels,
		}),
		epochWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "deepx_epoch_weight",
			Help:        "Running instance-count weight accumulated over the current epoch.",
			ConstLabels: labels,
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "deepx_epoch",
			Help:        "Current training epoch number.",
			ConstLabels: labels,
		}),
		pullRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_pull_requests_total",
			Help:        "Total Pull RPCs handled.",
			ConstLabels: labels,
		}),
		pushRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_push_requests_total",
			Help:        "Total Push RPCs handled.",
			ConstLabels: labels,
		}),
		pullRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_pull_rows_total",
			Help:        "Total sparse rows returned across all Pull RPCs.",
			ConstLabels: labels,
		}),
		pushRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_push_rows_total",
			Help:        "Total sparse rows touched across all Push RPCs.",
			ConstLabels: labels,
		}),
		freqRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_freq_rejections_total",
			Help:        "Total sparse ids dropped from a Pull by FreqStore admission filtering.",
			ConstLabels: labels,
		}),
		expiredRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_expired_rows_total",
			Help:        "Total sparse rows removed by ExpireTSStore.",
			ConstLabels: labels,
		}),
		filesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_files_served_total",
			Help:        "Total FileResponse dispatches the coordinator issued.",
			ConstLabels: labels,
		}),
		filesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "deepx_files_failed_total",
			Help:        "Total files reclaimed after a worker timeout.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		s.epochLoss, s.epochWeight, s.epoch,
		s.pullRequests, s.pushRequests, s.pullRows, s.pushRows,
		s.freqRejections, s.expiredRows,
		s.filesServed, s.filesFailed,
	)
	return s
}

// SetEpoch records the current epoch number.
func (s *Stats) SetEpoch(e int) { s.epoch.Set(float64(e)) }

// AddEpochLoss accumulates loss/weight for the running epoch. Callers reset by constructing a fresh
// Stats per epoch or by calling ResetEpoch.
func (s *Stats) AddEpochLoss(loss, weight float64) {
	s.epochLoss.Add(loss)
	s.epochWeight.Add(weight)
}

// ResetEpoch zeroes the running loss/weight gauges at an epoch boundary.
func (s *Stats) ResetEpoch() {
	s.epochLoss.Set(0)
	s.epochWeight.Set(0)
}

// ObservePull records one Pull RPC touching rows sparse rows.
func (s *Stats) ObservePull(rows int) {
	s.pullRequests.Inc()
	s.pullRows.Add(float64(rows))
}

// ObservePush records one Push RPC touching rows sparse rows.
func (s *Stats) ObservePush(rows int) {
	s.pushRequests.Inc()
	s.pushRows.Add(float64(rows))
}

// ObserveFreqRejections records n ids dropped by FreqStore admission.
func (s *Stats) ObserveFreqRejections(n int) { s.freqRejections.Add(float64(n)) }

// ObserveExpired records n rows removed by ExpireTSStore.
func (s *Stats) ObserveExpired(n int) { s.expiredRows.Add(float64(n)) }

// ObserveFileServed records one coordinator FileResponse dispatch.
func (s *Stats) ObserveFileServed() { s.filesServed.Inc() }

// ObserveFileReclaimed records one coordinator file-timeout reclamation.
func (s *Stats) ObserveFileReclaimed() { s.filesFailed.Inc() }

// Handler returns the process's /metrics HTTP handler.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until ctx
// is canceled, mirroring StartMetricsServer/ShutdownMetricsServer's
// lifecycle split in the pack's HealthLogger.
func (s *Stats) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
