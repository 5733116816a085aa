// Package metrics exposes the UPF's Prometheus surface: the promauto
// collectors plus the HTTP server that serves /metrics, adapted from the
// teacher's shared common/metrics package (originally split across several
// network functions) down to the single UPF's GTP-U/PFCP/QoS counters.
// telemetry.Telemetry remains the in-process sharded counters the
// datapath itself reads back (e.g. for the admin /stats endpoint);
// this package is the read-only Prometheus scrape surface built on top
// of the same events.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ServiceUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upf_service_up",
		Help: "Whether the UPF process is up (1 = up, 0 = down)",
	})

	GTPUPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upf_gtpu_packets_total",
		Help: "Total number of GTP-U packets processed",
	}, []string{"direction"})

	GTPUBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upf_gtpu_bytes_total",
		Help: "Total number of GTP-U bytes processed",
	}, []string{"direction"})

	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upf_packets_dropped_total",
		Help: "Total number of packets dropped by the datapath",
	}, []string{"direction"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upf_active_sessions",
		Help: "Number of active PFCP sessions",
	})

	PFCPSessionEstablishments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upf_pfcp_session_establishments_total",
		Help: "Total number of PFCP session establishments",
	}, []string{"result"})

	PFCPMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upf_pfcp_messages_total",
		Help: "Total number of PFCP messages handled",
	}, []string{"type"})

	QoSViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upf_qos_violations_total",
		Help: "Total number of QER gate closures and rate-limit drops",
	}, []string{"qfi"})
)

// RecordGTPUPacket records one processed frame in the given direction
// ("uplink" or "downlink").
func RecordGTPUPacket(direction string, bytes int) {
	GTPUPackets.WithLabelValues(direction).Inc()
	GTPUBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPacketDropped records a dropped frame.
func RecordPacketDropped(direction string) {
	PacketsDropped.WithLabelValues(direction).Inc()
}

// SetActiveSessions reports the PFCP server's current session count.
func SetActiveSessions(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordPFCPSessionEstablishment records a session establishment outcome
// ("accepted" or "rejected").
func RecordPFCPSessionEstablishment(result string) {
	PFCPSessionEstablishments.WithLabelValues(result).Inc()
}

// RecordPFCPMessage records one handled PFCP message by its type name.
func RecordPFCPMessage(msgType string) {
	PFCPMessages.WithLabelValues(msgType).Inc()
}

// RecordQoSViolation records a QER gate/rate-limit rejection for qfi.
func RecordQoSViolation(qfi string) {
	QoSViolations.WithLabelValues(qfi).Inc()
}

// Server serves the Prometheus /metrics endpoint.
type Server struct {
	port   int
	server *http.Server
	logger *zap.Logger
}

// NewServer constructs a metrics server bound to port.
func NewServer(port int, logger *zap.Logger) *Server {
	return &Server{port: port, logger: logger}
}

// Start runs the metrics HTTP server until Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting metrics server", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

// Stop closes the metrics server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
