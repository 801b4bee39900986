package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	connections prometheus.Gauge
	envelopes   *prometheus.CounterVec
	evictions   prometheus.Counter
	rooms       prometheus.Gauge
	roomMembers *prometheus.GaugeVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	// Basic HTTP metrics
	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	// Relay metrics
	connections := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "connections_active"})
	envelopes := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "envelopes_total"}, []string{"kind", "outcome"})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "liveness_evictions_total"})
	r.MustRegister(connections, envelopes, evictions)

	rooms := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "rooms_active"})
	roomMembers := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "room_members"}, []string{"room"})
	r.MustRegister(rooms, roomMembers)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		httpReqCnt:  httpReqCnt,
		httpDur:     httpDur,
		httpInfl:    httpInfl,
		connections: connections,
		envelopes:   envelopes,
		evictions:   evictions,
		rooms:       rooms,
		roomMembers: roomMembers,
	}
}

func (m *Metrics) ConnOpened() { m.connections.Inc() }

func (m *Metrics) ConnClosed() { m.connections.Dec() }

// Envelope records one routed envelope. outcome is "delivered", "broadcast",
// "not_found" or "malformed".
func (m *Metrics) Envelope(kind, outcome string) {
	m.envelopes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Evicted() { m.evictions.Inc() }

func (m *Metrics) RoomCreated() { m.rooms.Inc() }

func (m *Metrics) RoomDestroyed(room string) {
	m.rooms.Dec()
	m.roomMembers.DeleteLabelValues(room)
}

func (m *Metrics) RoomMembers(room string, n int) {
	m.roomMembers.WithLabelValues(room).Set(float64(n))
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatus(code int) string { return strconv.Itoa(code) }
