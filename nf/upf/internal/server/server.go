// Package server exposes the UPF's admin/monitoring HTTP surface,
// adapted from the teacher's chi-based Server to report on
// telemetry.Telemetry instead of an ad hoc UPFSession map. The
// rules.Tables it is given is held but not read by any handler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/config"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

// Server is the UPF's admin/monitoring HTTP server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	tables     *rules.Tables
	telemetry  *telemetry.Telemetry
	logger     *zap.Logger
}

// NewServer constructs the admin server.
func NewServer(cfg *config.Config, tables *rules.Tables, tel *telemetry.Telemetry, logger *zap.Logger) *Server {
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		tables:    tables,
		telemetry: tel,
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/rules", s.handleRules)
}

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	addr := ":9096"
	if s.config.Observability.Metrics.Port != 0 {
		addr = fmt.Sprintf(":%d", s.config.Observability.Metrics.Port)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting admin server", zap.String("address", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uplink": map[string]uint64{
			"rx_packets": s.telemetry.Uplink.RxPackets.Total(),
			"rx_bytes":   s.telemetry.Uplink.RxBytes.Total(),
			"tx_packets": s.telemetry.Uplink.TxPackets.Total(),
			"tx_bytes":   s.telemetry.Uplink.TxBytes.Total(),
			"dropped":    s.telemetry.Uplink.Dropped.Total(),
			"aborted":    s.telemetry.Uplink.Aborted.Total(),
		},
		"downlink": map[string]uint64{
			"rx_packets": s.telemetry.Downlink.RxPackets.Total(),
			"rx_bytes":   s.telemetry.Downlink.RxBytes.Total(),
			"tx_packets": s.telemetry.Downlink.TxPackets.Total(),
			"tx_bytes":   s.telemetry.Downlink.TxBytes.Total(),
			"dropped":    s.telemetry.Downlink.Dropped.Total(),
			"aborted":    s.telemetry.Downlink.Aborted.Total(),
		},
		"actions": s.telemetry.Actions.Snapshot(),
		"uplink_route": map[string]uint64{
			"ok":         s.telemetry.UplinkRoute.OK.Total(),
			"error_drop": s.telemetry.UplinkRoute.ErrorDrop.Total(),
			"error_pass": s.telemetry.UplinkRoute.ErrorPass.Total(),
		},
		"downlink_route": map[string]uint64{
			"ok":         s.telemetry.DownlinkRoute.OK.Total(),
			"error_drop": s.telemetry.DownlinkRoute.ErrorDrop.Total(),
			"error_pass": s.telemetry.DownlinkRoute.ErrorPass.Total(),
		},
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// handleRules reports the configured PFCP node ID. It does not report
// rule table contents or entry counts.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_id": s.config.PFCP.NodeID,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode JSON response", zap.Error(err))
		}
	}
}
