// Package metrics exposes Prometheus metrics for the local session.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for voxelshare.
type Metrics struct {
	startTime time.Time
	gatherer  prometheus.Gatherer

	commandsTotal   *prometheus.CounterVec
	exportsTotal    prometheus.Counter
	exportBytes     prometheus.Counter
	savesTotal      *prometheus.CounterVec
	resetsTotal     prometheus.Counter
	sharePeers      prometheus.Gauge
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// New creates metrics and registers them with reg. A nil reg uses a fresh
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		startTime: time.Now(),
		gatherer:  reg,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelshare_commands_total",
			Help: "Dispatched chat commands by trigger and result.",
		}, []string{"trigger", "result"}),
		exportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelshare_exports_total",
			Help: "World archives handed to the download destination.",
		}),
		exportBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelshare_export_bytes_total",
			Help: "Total size of exported world archives in bytes.",
		}),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelshare_saves_total",
			Help: "World saves by result.",
		}, []string{"result"}),
		resetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelshare_resets_total",
			Help: "Durable worlds removed by reset.",
		}),
		sharePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxelshare_share_peers",
			Help: "Remote peers currently joined.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxelshare_uptime_seconds",
			Help: "Process uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxelshare_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxelshare_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	reg.MustRegister(
		m.commandsTotal,
		m.exportsTotal,
		m.exportBytes,
		m.savesTotal,
		m.resetsTotal,
		m.sharePeers,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// Command counts one finished command. A nil err counts as "ok". The
// recording methods do nothing on a nil *Metrics.
func (m *Metrics) Command(trigger string, err error) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(trigger, result(err)).Inc()
}

// Export counts one exported archive of n bytes.
func (m *Metrics) Export(n int) {
	if m == nil {
		return
	}
	m.exportsTotal.Inc()
	m.exportBytes.Add(float64(n))
}

// Save counts one save attempt.
func (m *Metrics) Save(err error) {
	if m == nil {
		return
	}
	m.savesTotal.WithLabelValues(result(err)).Inc()
}

// Reset counts one world reset.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.resetsTotal.Inc()
}

// SetPeers records the number of joined peers.
func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.sharePeers.Set(float64(n))
}

// Update refreshes the process gauges.
func (m *Metrics) Update() {
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
