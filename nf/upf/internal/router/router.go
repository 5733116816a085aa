// Package router implements FIB-assisted forwarding (spec.md §4.9): a FIB
// lookup resolves next-hop MACs and the egress interface, with a
// no-neighbor fallback and a fixed disposition table for the remaining
// verdict codes. Grounded on original_source's routing.h route_ipv4/
// do_route_ipv4.
package router

import (
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

// broadcastMAC is substituted for the destination MAC on a NO_NEIGH
// verdict, per spec.md §4.9.
var broadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Route resolves egress for a frame whose Ethernet and IPv4/IPv6 headers
// are already parsed in ctx, and rewrites the Ethernet header's MACs in
// place on success. The egress interface is the one the FIB lookup
// reports: TX when it equals fib.IngressIfindex, otherwise a Redirect to
// it.
func Route(rt hostruntime.HostRuntime, ctx *packet.Context, fib hostruntime.FIBParams, stats *telemetry.RouteCounters) action.Result {
	res, err := rt.FIBLookup(fib)
	if err != nil {
		stats.ErrorPass.Inc()
		return action.PassResult()
	}
	return Dispatch(rt, ctx, fib, res, stats)
}

// Dispatch applies an already-performed FIB lookup's verdict to ctx. It is
// split out from Route so a caller that needs the lookup's resolved source
// address (e.g. for masquerading) before committing to a verdict — the
// uplink pipeline — can call hostruntime.FIBLookup itself and still reuse
// this disposition table.
func Dispatch(rt hostruntime.HostRuntime, ctx *packet.Context, fib hostruntime.FIBParams, res hostruntime.FIBLookupResult, stats *telemetry.RouteCounters) action.Result {
	switch res.Result {
	case hostruntime.FIBSuccess:
		ctx.Eth.SetSrcMAC(res.SrcMAC[:])
		ctx.Eth.SetDstMAC(res.DstMAC[:])
		stats.OK.Inc()
		return dispatch(ctx, fib.IngressIfindex, res.EgressIfindex)

	case hostruntime.FIBNoNeigh:
		ctx.Eth.SetDstMAC(broadcastMAC[:])
		rt.NotifyNoNeighbor(fib.DstIP)
		stats.OK.Inc()
		return dispatch(ctx, fib.IngressIfindex, res.EgressIfindex)

	case hostruntime.FIBBlackhole, hostruntime.FIBUnreachable,
		hostruntime.FIBProhibit, hostruntime.FIBNoSrcAddr:
		stats.ErrorDrop.Inc()
		return action.DropResult()

	default: // NOT_FWDED, FWD_DISABLED, UNSUPP_LWT, FRAG_NEEDED, anything else
		stats.ErrorPass.Inc()
		return action.PassResult()
	}
}

func dispatch(ctx *packet.Context, ingressIfindex, egressIfindex int) action.Result {
	if egressIfindex == ingressIfindex {
		return action.TXResult()
	}
	return action.RedirectResult(egressIfindex)
}
