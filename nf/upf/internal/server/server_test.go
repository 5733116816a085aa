package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/config"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

func newTestServer() *Server {
	cfg := &config.Config{PFCP: config.PFCPConfig{NodeID: "upf-1.5gc.local"}}
	tables := rules.NewTables(2)
	tel := telemetry.New(2, 16)
	return NewServer(cfg, tables, tel, zap.NewNop())
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestHandleReadyz(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatsReportsTelemetrySnapshot(t *testing.T) {
	s := newTestServer()
	s.telemetry.Uplink.RxPackets.AddShard(0, 5)
	s.telemetry.Uplink.RxBytes.AddShard(0, 1500)
	s.telemetry.UplinkRoute.OK.AddShard(0, 3)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	uplink := body["uplink"].(map[string]interface{})
	require.Equal(t, float64(5), uplink["rx_packets"])
	require.Equal(t, float64(1500), uplink["rx_bytes"])

	uplinkRoute := body["uplink_route"].(map[string]interface{})
	require.Equal(t, float64(3), uplinkRoute["ok"])
}

func TestHandleRulesReportsNodeID(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "upf-1.5gc.local", body["node_id"])
}
