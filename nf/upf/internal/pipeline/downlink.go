package pipeline

import (
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

// Downlink processes one frame received on N6: destination NAT reversal,
// PDR lookup by UE destination address, FAR/QER/URR dispatch, an MTU
// pre-check against GTP-U encapsulation (synthesizing an ICMP
// fragmentation-needed reply when the original packet forbade
// fragmentation), and FIB-assisted routing of the encapsulated frame
// toward the RAN (spec.md §4.4).
func (p *Pipeline) Downlink(buf []byte, shardIdx int, nowNS int64) ([]byte, action.Result) {
	stats := p.telemetry.Downlink
	stats.RxPackets.AddShard(shardIdx, 1)
	stats.RxBytes.AddShard(shardIdx, uint64(len(buf)))

	result, out := p.downlink(buf, shardIdx, nowNS)
	p.telemetry.Actions.Record(shardIdx, result)
	metrics.RecordGTPUPacket("downlink", len(buf))
	switch result.Action {
	case action.Drop:
		stats.Dropped.AddShard(shardIdx, 1)
		metrics.RecordPacketDropped("downlink")
	case action.Aborted:
		stats.Aborted.AddShard(shardIdx, 1)
	case action.TX, action.Redirect:
		stats.TxPackets.AddShard(shardIdx, 1)
		stats.TxBytes.AddShard(shardIdx, uint64(len(out)))
	}
	return out, result
}

func (p *Pipeline) downlink(buf []byte, shardIdx int, nowNS int64) (action.Result, []byte) {
	ctx, err := packet.ParseFrame(buf, packet.InterfaceN6)
	if err != nil {
		return action.PassResult(), buf
	}

	p.nat.DestinationNAT(ctx)

	var pdr rules.PDR
	var ok bool
	switch {
	case ctx.IP4 != nil:
		pdr, ok = p.tables.LookupPDRDownlinkV4(ctx.IP4.DstU32())
	case ctx.IP6 != nil:
		if ctx.IP6.NextHeader() == packet.ProtoICMPv6 {
			return action.PassResult(), buf // neighbor discovery is the kernel's
		}
		var ue [16]byte
		copy(ue[:], ctx.IP6.DstIP())
		pdr, ok = p.tables.LookupPDRDownlinkV6(ue)
	default:
		return action.PassResult(), buf
	}
	if !ok {
		return action.PassResult(), buf
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
	if far.ActionMask&(rules.FARBuff|rules.FARNocp) != 0 {
		qfi := qerQFI(p.tables, match.QERID)
		p.runtime.NotifyControlPlane(pdr.LocalSEID, pdr.PDRID, qfi)
		return action.DropResult(), buf
	}
	if far.ActionMask&rules.FARForw == 0 {
		return action.DropResult(), buf
	}

	if !checkQERDownlink(p.tables, match.QERID, len(buf), nowNS) {
		return action.DropResult(), buf
	}
	accountURR(p.tables, match.URRID, shardIdx, len(buf))

	if far.OuterHeaderCreation == 0 {
		// plain pass-through routing has no outer tunnel to build; the
		// original has no such path for an IPv6-destined PDR, which must
		// always carry an IPv4-over-GTP-U outer header (FAR.LocalIP/
		// RemoteIP are [4]byte, an IPv4-only outer tunnel by design).
		if ctx.IP4 == nil {
			return action.DropResult(), buf
		}
		fib := hostruntime.FIBParams{
			SrcIP:          ctx.IP4.SrcIP(),
			DstIP:          ctx.IP4.DstIP(),
			L4Protocol:     ctx.IP4.Protocol(),
			TOS:            ctx.IP4.TOS(),
			TotalLen:       ctx.IP4.TotalLen(),
			IngressIfindex: p.cfg.Datapath.N6Ifindex,
		}
		verdict := router.Route(p.runtime, ctx, fib, p.telemetry.DownlinkRoute)
		accountFlow(p.telemetry, ctx, p.cfg.Datapath.N6Ifindex, p.cfg.Datapath.N3Ifindex, nowNS, len(buf))
		return verdict, buf
	}

	qfi := qerQFI(p.tables, match.QERID)
	growth := gtputil.EncapSizeNoQFI
	if qfi != 0 {
		growth = gtputil.EncapSizeWithQFI
	}

	payload := buf[packet.EthernetHeaderLen:]
	// the MTU/frag-needed gate only applies to an IPv4 UE destination; the
	// original's IPv6 downlink path (handle_ip6) has no MTU check at all
	// and always proceeds straight to the tunnel.
	if ctx.IP4 != nil && len(payload)+growth > p.cfg.Datapath.EgressMTU {
		if ctx.IP4.DontFragment() {
			embeddedLen := int(ctx.IP4.IHL()) + 8
			if embeddedLen > len(payload) {
				embeddedLen = len(payload)
			}
			reply, ok := icmperr.FragmentationNeeded(buf[:packet.EthernetHeaderLen], payload[:embeddedLen],
				far.LocalIP, uint16(p.cfg.Datapath.EgressMTU-growth))
			if ok {
				return action.TXResult(), reply
			}
		}
		return action.DropResult(), buf
	}

	encapped := gtputil.Encapsulate(payload, packet.EthernetHeaderLen, gtputil.TunnelParams{
		SrcIP: far.LocalIP,
		DstIP: far.RemoteIP,
		TEID:  far.TEID,
		TOS:   uint8(far.TransportLevelMarking),
		QFI:   qfi,
	})
	copy(encapped[:packet.EthernetHeaderLen], buf[:packet.EthernetHeaderLen])
	// the outer header is always IPv4, whatever the UE packet was
	encapped[12], encapped[13] = byte(packet.EthTypeIPv4>>8), byte(packet.EthTypeIPv4)

	encapCtx, err := packet.ParseFrame(encapped, packet.InterfaceN6)
	if err != nil || encapCtx.IP4 == nil {
		return action.AbortedResult(), encapped
	}

	fib := hostruntime.FIBParams{
		SrcIP:          far.LocalIP[:],
		DstIP:          far.RemoteIP[:],
		L4Protocol:     packet.ProtoUDP,
		TotalLen:       uint16(len(encapped) - packet.EthernetHeaderLen),
		IngressIfindex: p.cfg.Datapath.N6Ifindex,
	}
	verdict := router.Route(p.runtime, encapCtx, fib, p.telemetry.DownlinkRoute)
	accountFlow(p.telemetry, ctx, p.cfg.Datapath.N6Ifindex, p.cfg.Datapath.N3Ifindex, nowNS, len(encapped))
	return verdict, encapped
}

func qerQFI(tables *rules.Tables, qerID uint32) uint8 {
	if qs, ok := tables.LookupQER(qerID); ok {
		return qs.Config.QFI
	}
	return 0
}
