package pipeline

import (
	"encoding/binary"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/gtputil"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/icmperr"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/metrics"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/router"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/sdf"
)

// Uplink processes one frame received on N3: GTP-U decapsulation, an MTU
// pre-check against the egress link toward N6 (synthesizing an ICMP
// fragmentation-needed reply when the decapsulated packet forbade
// fragmentation), PDR/FAR/QER/URR dispatch against the decapsulated
// 5-tuple, optional source NAT toward N6, and FIB-assisted routing
// (spec.md §4.3).
func (p *Pipeline) Uplink(buf []byte, shardIdx int, nowNS int64) ([]byte, action.Result) {
	stats := p.telemetry.Uplink
	stats.RxPackets.AddShard(shardIdx, 1)
	stats.RxBytes.AddShard(shardIdx, uint64(len(buf)))

	result, out := p.uplink(buf, shardIdx, nowNS)
	p.telemetry.Actions.Record(shardIdx, result)
	metrics.RecordGTPUPacket("uplink", len(buf))
	switch result.Action {
	case action.Drop:
		stats.Dropped.AddShard(shardIdx, 1)
		metrics.RecordPacketDropped("uplink")
	case action.Aborted:
		stats.Aborted.AddShard(shardIdx, 1)
	case action.TX, action.Redirect:
		stats.TxPackets.AddShard(shardIdx, 1)
		stats.TxBytes.AddShard(shardIdx, uint64(len(out)))
	}
	return out, result
}

func (p *Pipeline) uplink(buf []byte, shardIdx int, nowNS int64) (action.Result, []byte) {
	ctx, err := packet.ParseFrame(buf, packet.InterfaceN3)
	if err != nil {
		return action.PassResult(), buf
	}

	if ctx.GTPU == nil {
		// N3 only ever carries GTP-U; anything else has nothing this
		// datapath knows how to forward.
		return action.DropResult(), buf
	}

	switch ctx.GTPU.MessageType() {
	case packet.GTPUEchoRequest:
		if ctx.IP4 == nil || !gtputil.EchoReply(ctx.Eth, *ctx.IP4, *ctx.GTPU) {
			return action.DropResult(), buf
		}
		return action.TXResult(), buf
	case packet.GTPUGPDU:
		// fall through to PDR dispatch below
	default:
		// error indication, end marker, and any other control message:
		// not user-plane data, deferred to the ordinary kernel stack.
		return action.PassResult(), buf
	}

	if ctx.IP4 == nil {
		return action.DropResult(), buf
	}

	teid := ctx.GTPU.TEID()
	pdr, ok := p.tables.LookupPDRUplink(teid)
	if !ok {
		// not a configured subscriber session; defer to the kernel rather
		// than drop, per the error handling table's "PDR miss" entry.
		return action.PassResult(), buf
	}

	outerLen := ctx.InnerOffset() - packet.EthernetHeaderLen
	if outerLen <= 0 {
		return action.AbortedResult(), buf
	}
	innerLen := len(buf) - packet.EthernetHeaderLen - outerLen

	mtuFib := hostruntime.FIBParams{
		SrcIP:          ctx.IP4.SrcIP(),
		DstIP:          ctx.IP4.DstIP(),
		L4Protocol:     ctx.IP4.Protocol(),
		TOS:            ctx.IP4.TOS(),
		TotalLen:       ctx.IP4.TotalLen(),
		IngressIfindex: p.cfg.Datapath.N3Ifindex,
	}
	mtuRes, err := p.runtime.FIBLookup(mtuFib)
	if err != nil {
		return action.AbortedResult(), buf
	}
	if mtuRes.MTU > 0 && innerLen > mtuRes.MTU {
		if ctx.IP4.DontFragment() {
			inner := buf[ctx.InnerOffset():]
			embeddedLen := int(ctx.IP4.IHL()) + 8
			if embeddedLen > len(inner) {
				embeddedLen = len(inner)
			}
			// the gNB addressed the outer GTP-U packet to our own
			// N3-facing address; reuse it as the reply's source rather
			// than running a second reverse-route FIB lookup.
			if outerIP, err := packet.ParseIPv4FromBytes(buf[packet.EthernetHeaderLen:]); err == nil {
				var localIP [4]byte
				copy(localIP[:], outerIP.DstIP())
				if reply, ok := icmperr.FragmentationNeeded(buf[:packet.EthernetHeaderLen], inner[:embeddedLen],
					localIP, uint16(mtuRes.MTU)); ok {
					return action.TXResult(), reply
				}
			}
		}
		return action.DropResult(), buf
	}

	ft := fiveTupleFromContext(ctx)
	match := sdf.Resolve(pdr, ft)
	if match.Drop {
		return action.DropResult(), buf
	}

	far, ok := p.tables.LookupFAR(match.FARID)
	if !ok || far.ActionMask&rules.FARDrop != 0 {
		return action.DropResult(), buf
	}
	if far.ActionMask&rules.FARForw == 0 {
		// unlike downlink, uplink has no buffering/paging story to notify
		// the control plane about; the original drops silently here.
		return action.DropResult(), buf
	}

	if !checkQERUplink(p.tables, match.QERID, len(buf), nowNS) {
		return action.DropResult(), buf
	}
	accountURR(p.tables, match.URRID, shardIdx, len(buf))

	inner := gtputil.Decapsulate(buf, packet.EthernetHeaderLen, outerLen)
	copy(inner[:packet.EthernetHeaderLen], buf[:packet.EthernetHeaderLen])

	innerCtx, err := packet.ParseFrame(inner, packet.InterfaceN3)
	if err != nil || innerCtx.IP4 == nil {
		return action.AbortedResult(), inner
	}

	if p.cfg.Datapath.Masquerade {
		fib := hostruntime.FIBParams{
			SrcIP:          innerCtx.IP4.SrcIP(),
			DstIP:          innerCtx.IP4.DstIP(),
			L4Protocol:     innerCtx.IP4.Protocol(),
			TOS:            innerCtx.IP4.TOS(),
			TotalLen:       innerCtx.IP4.TotalLen(),
			IngressIfindex: p.cfg.Datapath.N3Ifindex,
			ResolveSrcAddr: true,
		}
		res, err := p.runtime.FIBLookup(fib)
		if err != nil {
			p.telemetry.UplinkRoute.ErrorPass.Inc()
			return action.PassResult(), inner
		}
		if res.SrcIP != nil {
			p.nat.SourceNAT(innerCtx, binary.BigEndian.Uint32(res.SrcIP), nowNS)
		}
		verdict := router.Dispatch(p.runtime, innerCtx, fib, res, p.telemetry.UplinkRoute)
		accountFlow(p.telemetry, innerCtx, p.cfg.Datapath.N3Ifindex, p.cfg.Datapath.N6Ifindex, nowNS, len(inner))
		return verdict, inner
	}

	fib := hostruntime.FIBParams{
		SrcIP:          innerCtx.IP4.SrcIP(),
		DstIP:          innerCtx.IP4.DstIP(),
		L4Protocol:     innerCtx.IP4.Protocol(),
		TOS:            innerCtx.IP4.TOS(),
		TotalLen:       innerCtx.IP4.TotalLen(),
		IngressIfindex: p.cfg.Datapath.N3Ifindex,
	}
	verdict := router.Route(p.runtime, innerCtx, fib, p.telemetry.UplinkRoute)
	accountFlow(p.telemetry, innerCtx, p.cfg.Datapath.N3Ifindex, p.cfg.Datapath.N6Ifindex, nowNS, len(inner))
	return verdict, inner
}
