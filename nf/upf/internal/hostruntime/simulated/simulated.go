// Package simulated is an in-memory HostRuntime test double, adapted from
// the teacher's SimulatedDataPlane: a mutex-guarded table standing in for
// the kernel FIB, plus bounded channels standing in for the no-neighbor
// and control-plane notification rings.
package simulated

import (
	"context"
	"net"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
)

// Route is a static FIB entry installed for tests and for deployments that
// front the datapath with an explicit route table instead of the kernel's.
type Route struct {
	DstCIDR       *net.IPNet
	SrcIP         []byte
	EgressIfindex int
	NeighborMAC   [6]byte
	HasNeighbor   bool
	MTU           int
}

// Runtime is a simulated host runtime: routes are installed directly
// rather than discovered, and notifications land on buffered channels a
// test can drain.
type Runtime struct {
	logger *zap.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	routes []Route

	NoNeighborCh    chan []byte
	ControlPlaneCh  chan hostruntime.ControlPlaneNotification
}

// NewRuntime constructs an empty simulated runtime with the given ring
// buffer depths.
func NewRuntime(logger *zap.Logger, ringDepth int) *Runtime {
	return &Runtime{
		logger:         logger,
		tracer:         otel.Tracer("upf-hostruntime-simulated"),
		NoNeighborCh:   make(chan []byte, ringDepth),
		ControlPlaneCh: make(chan hostruntime.ControlPlaneNotification, ringDepth),
	}
}

// InstallRoute adds r to the route table, evaluated in installation order
// (first matching CIDR wins), mirroring a longest-match FIB closely enough
// for test fixtures.
func (r *Runtime) InstallRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

// FIBLookup implements hostruntime.HostRuntime. Each call opens a span
// tagged with the destination address, letting a trace exporter attached
// to the process correlate simulated-runtime latency against the rest of
// the pipeline even though HostRuntime itself is not context-aware.
func (r *Runtime) FIBLookup(p hostruntime.FIBParams) (hostruntime.FIBLookupResult, error) {
	_, span := r.tracer.Start(context.Background(), "simulated.FIBLookup",
		trace.WithAttributes(attribute.String("dst_ip", net.IP(p.DstIP).String())))
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	dst := net.IP(p.DstIP)
	for _, route := range r.routes {
		if !route.DstCIDR.Contains(dst) {
			continue
		}
		res := hostruntime.FIBLookupResult{
			EgressIfindex: route.EgressIfindex,
			MTU:           route.MTU,
		}
		if p.ResolveSrcAddr {
			res.SrcIP = route.SrcIP
		}
		if !route.HasNeighbor {
			res.Result = hostruntime.FIBNoNeigh
			return res, nil
		}
		res.Result = hostruntime.FIBSuccess
		res.DstMAC = route.NeighborMAC
		return res, nil
	}

	r.logger.Debug("FIB lookup miss", zap.String("dst", dst.String()))
	return hostruntime.FIBLookupResult{Result: hostruntime.FIBUnreachable}, nil
}

// NotifyNoNeighbor implements hostruntime.HostRuntime.
func (r *Runtime) NotifyNoNeighbor(dstIP []byte) {
	cp := make([]byte, len(dstIP))
	copy(cp, dstIP)
	select {
	case r.NoNeighborCh <- cp:
	default:
		r.logger.Warn("no-neighbor ring full, dropping notification")
	}
}

// NotifyControlPlane implements hostruntime.HostRuntime.
func (r *Runtime) NotifyControlPlane(localSEID uint64, pdrID uint32, qfi uint8) {
	n := hostruntime.ControlPlaneNotification{LocalSEID: localSEID, PDRID: pdrID, QFI: qfi}
	select {
	case r.ControlPlaneCh <- n:
	default:
		r.logger.Warn("control-plane ring full, dropping notification",
			zap.Uint64("local_seid", localSEID), zap.Uint32("pdr_id", pdrID))
	}
}
