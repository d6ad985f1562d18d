package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/session"
)

// Metrics holds Prometheus metric descriptors for the game server. It is a
// global bus subscriber; gauges are refreshed on scrape.
type Metrics struct {
	srv       *Server
	startTime time.Time
	registry  *prometheus.Registry

	envelopesTotal   *prometheus.CounterVec
	connectionsTotal *prometheus.CounterVec
	logonsTotal      *prometheus.CounterVec
	worldEntries     prometheus.Counter
	sessions         *prometheus.GaugeVec
	activeWorlds     prometheus.Gauge
	worldMembers     prometheus.Gauge
	uptimeSeconds    prometheus.Gauge
	memoryHeapBytes  prometheus.Gauge
	goroutines       prometheus.Gauge
}

// NewMetrics creates metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		envelopesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novaserver_envelopes_total",
			Help: "Inbound envelopes by message type and dispatch outcome.",
		}, []string{"msg_type", "outcome"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novaserver_connections_total",
			Help: "Total connections since server start.",
		}, []string{"transport"}),
		logonsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novaserver_logons_total",
			Help: "Logon attempts by flow and result.",
		}, []string{"flow", "result"}),
		worldEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaserver_world_entries_total",
			Help: "Successful world entries.",
		}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "novaserver_sessions",
			Help: "Attached sessions by logon phase.",
		}, []string{"phase"}),
		activeWorlds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novaserver_active_worlds",
			Help: "Worlds held in the registry.",
		}),
		worldMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novaserver_world_members",
			Help: "Sessions inside a world.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novaserver_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novaserver_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novaserver_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.envelopesTotal,
		m.connectionsTotal,
		m.logonsTotal,
		m.worldEntries,
		m.sessions,
		m.activeWorlds,
		m.worldMembers,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

func (m *Metrics) attach(srv *Server) { m.srv = srv }

// Registry returns the registry metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeEnvelope(msgType, outcome string) {
	m.envelopesTotal.WithLabelValues(msgType, outcome).Inc()
}

// Receive implements events.Subscriber.
func (m *Metrics) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvConnect:
		transport, _ := ev.Data["transport"].(string)
		m.connectionsTotal.WithLabelValues(transport).Inc()
	case events.EvLogon:
		m.logonsTotal.WithLabelValues(ev.Flow, "ok").Inc()
	case events.EvLogonFailed:
		m.logonsTotal.WithLabelValues(ev.Flow, "failed").Inc()
	case events.EvEnterWorld:
		m.worldEntries.Inc()
	}
}

// Closed implements events.Subscriber.
func (m *Metrics) Closed() bool { return false }

// Update refreshes all gauge metrics from current server state.
func (m *Metrics) Update() {
	if m.srv != nil {
		counts := m.srv.sessions.CountByPhase()
		for _, st := range []session.State{
			session.Connected, session.GuestPending, session.RegisteredPending,
			session.TokenPending, session.Authenticated, session.EnteredWorld,
		} {
			m.sessions.WithLabelValues(st.String()).Set(float64(counts[st]))
		}
		if m.srv.worlds != nil {
			members := 0
			active := m.srv.worlds.Active()
			for _, w := range active {
				members += w.MemberCount()
			}
			m.activeWorlds.Set(float64(len(active)))
			m.worldMembers.Set(float64(members))
		}
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
