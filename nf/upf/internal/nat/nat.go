// Package nat implements bidirectional source NAT (masquerading) and its
// ICMP-embedded-packet rewrite, grounded on nat.h's source_nat/
// destination_nat/parse_icmp_packet_ref/find_origin_for_icmp/update_port.
// Unlike the PDR/FAR/QER tables, connection-tracking entries are read and
// written on every packet of a flow, so the table is a mutex-guarded map
// rather than a copy-on-write atomic pointer.
package nat

import (
	"math/rand"
	"sync"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/checksum"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
)

const maxPortAttempts = 5

// FiveTuple is the NAT connection-tracking key, mirroring nat.h's
// five_tuple union: for TCP/UDP, sport/dport hold ports; for ICMP,
// identifier/type/code are packed into the same fields.
type FiveTuple struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16 // also ICMP identifier
	DstPort  uint16 // also ICMP: the echo/timestamp request type, or (type<<8 | code) otherwise
	Protocol uint8
}

func icmpDstPort(icmpType, icmpCode uint8) uint16 {
	return uint16(icmpType)<<8 | uint16(icmpCode)
}

// Entry is one direction of a tracked connection: the tuple to translate
// to/from, and the last-seen timestamp used for idle eviction.
type Entry struct {
	Src       FiveTuple
	RefreshNS int64
}

// Table is the NAT connection-tracking table, keyed both by the original
// and the post-translation tuple (nat.h installs two entries per flow).
type Table struct {
	mu      sync.RWMutex
	entries map[FiveTuple]Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[FiveTuple]Entry)}
}

func (t *Table) lookup(key FiveTuple) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return e, ok
}

func (t *Table) install(key FiveTuple, e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = e
}

// EvictIdle removes entries whose RefreshNS is older than nowNS-maxAgeNS,
// the Go analogue of the kernel's BPF_MAP_TYPE_LRU_HASH eviction.
func (t *Table) EvictIdle(nowNS, maxAgeNS int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for k, e := range t.entries {
		if nowNS-e.RefreshNS > maxAgeNS {
			delete(t.entries, k)
			evicted++
		}
	}
	return evicted
}

func randomPort() uint16 {
	return uint16(rand.Intn(65536-1024) + 1024)
}

// SourceNAT rewrites ctx's source IP (and, if contended, source port) to
// fibSrcIP, tracking the translation bidirectionally. It mirrors nat.h's
// source_nat exactly, including the rare-port-collision fallback: if the
// natted tuple is already in use by an unrelated flow, up to
// maxPortAttempts random source ports are tried before giving up.
func (t *Table) SourceNAT(ctx *packet.Context, fibSrcIP uint32, nowNS int64) bool {
	ip4 := ctx.IP4
	if ip4 == nil {
		return false
	}
	proto := ip4.Protocol()

	orig := FiveTuple{SrcIP: ip4.SrcU32(), DstIP: ip4.DstU32(), Protocol: proto}

	origSrcIP := ip4.SrcU32()
	ip4.SetSrcU32(fibSrcIP)
	ip4.SetChecksum(0)
	ip4.SetChecksum(checksum.Compute(ip4.Bytes()))

	switch proto {
	case packet.ProtoTCP:
		if ctx.TCP == nil {
			return false
		}
		orig.SrcPort = ctx.TCP.SrcPort()
		orig.DstPort = ctx.TCP.DstPort()
		ctx.TCP.SetChecksum(checksum.UpdateU32(ctx.TCP.Checksum(), origSrcIP, fibSrcIP))
	case packet.ProtoUDP:
		if ctx.UDP == nil {
			return false
		}
		orig.SrcPort = ctx.UDP.SrcPort()
		orig.DstPort = ctx.UDP.DstPort()
		if ctx.UDP.HasChecksum() {
			ctx.UDP.SetChecksum(checksum.UpdateU32(ctx.UDP.Checksum(), origSrcIP, fibSrcIP))
		}
	case packet.ProtoICMP:
		if ctx.ICMP == nil {
			return false
		}
		if ctx.ICMP.Type() == packet.ICMPEcho || ctx.ICMP.Type() == packet.ICMPTimestamp {
			orig.SrcPort = ctx.ICMP.EchoID()
			orig.DstPort = uint16(ctx.ICMP.Type())
		} else {
			orig.SrcPort = 0
			orig.DstPort = icmpDstPort(ctx.ICMP.Type(), ctx.ICMP.Code())
		}
	default:
		return false
	}

	natted := FiveTuple{
		SrcIP:    fibSrcIP,
		SrcPort:  orig.SrcPort,
		DstIP:    ip4.DstU32(),
		DstPort:  orig.DstPort,
		Protocol: proto,
	}

	if tracked, ok := t.lookup(orig); ok && tracked.Src != natted {
		natted.SrcPort = tracked.Src.SrcPort
		updatePort(ctx, natted.SrcPort)
	} else if existing, ok := t.lookup(natted); ok && existing.Src != orig {
		found := false
		for i := 0; i < maxPortAttempts; i++ {
			candidate := natted
			candidate.SrcPort = randomPort()
			if _, ok := t.lookup(candidate); !ok {
				natted.SrcPort = candidate.SrcPort
				updatePort(ctx, natted.SrcPort)
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	t.install(orig, Entry{Src: natted, RefreshNS: nowNS})
	t.install(natted, Entry{Src: orig, RefreshNS: nowNS})
	return true
}

func updatePort(ctx *packet.Context, newPort uint16) {
	switch ctx.IP4.Protocol() {
	case packet.ProtoTCP:
		if ctx.TCP == nil {
			return
		}
		old := ctx.TCP.SrcPort()
		ctx.TCP.SetSrcPort(newPort)
		ctx.TCP.SetChecksum(checksum.UpdateU16(ctx.TCP.Checksum(), old, newPort))
	case packet.ProtoUDP:
		if ctx.UDP == nil {
			return
		}
		old := ctx.UDP.SrcPort()
		ctx.UDP.SetSrcPort(newPort)
		if ctx.UDP.HasChecksum() {
			ctx.UDP.SetChecksum(checksum.UpdateU16(ctx.UDP.Checksum(), old, newPort))
		}
	case packet.ProtoICMP:
		if ctx.ICMP == nil {
			return
		}
		old := ctx.ICMP.EchoID()
		ctx.ICMP.SetEchoID(newPort)
		ctx.ICMP.SetChecksum(checksum.UpdateU16(ctx.ICMP.Checksum(), old, newPort))
	}
}

// DestinationNAT reverses a previously tracked SourceNAT translation on a
// downlink packet, rewriting the destination IP (and port) back to the
// original sender. It mirrors nat.h's destination_nat.
func (t *Table) DestinationNAT(ctx *packet.Context) {
	ip4 := ctx.IP4
	if ip4 == nil {
		return
	}
	proto := ip4.Protocol()
	key := FiveTuple{SrcIP: ip4.DstU32(), DstIP: ip4.SrcU32(), Protocol: proto}

	var origin Entry
	var ok bool

	switch proto {
	case packet.ProtoICMP:
		if ctx.ICMP == nil {
			return
		}
		key.SrcPort = ctx.ICMP.EchoID()
		key.DstPort = uint16(ctx.ICMP.Type())
		origin, ok = t.findOriginForICMP(key, ctx)
		if !ok {
			return
		}
		if origin.Src.Protocol == packet.ProtoICMP {
			ctx.ICMP.SetEchoID(origin.Src.SrcPort)
		}
		ip4.SetDstU32(origin.Src.SrcIP)
	case packet.ProtoTCP:
		if ctx.TCP == nil {
			return
		}
		key.SrcPort = ctx.TCP.DstPort()
		key.DstPort = ctx.TCP.SrcPort()
		origin, ok = t.lookup(key)
		if !ok {
			return
		}
		ip4.SetDstU32(origin.Src.SrcIP)
		ctx.TCP.SetChecksum(checksum.UpdateU32(ctx.TCP.Checksum(), key.SrcIP, ip4.DstU32()))
		newDst := origin.Src.SrcPort
		if newDst != key.SrcPort {
			ctx.TCP.SetChecksum(checksum.UpdateU16(ctx.TCP.Checksum(), ctx.TCP.DstPort(), newDst))
		}
		ctx.TCP.SetDstPort(newDst)
	case packet.ProtoUDP:
		if ctx.UDP == nil {
			return
		}
		key.SrcPort = ctx.UDP.DstPort()
		key.DstPort = ctx.UDP.SrcPort()
		origin, ok = t.lookup(key)
		if !ok {
			return
		}
		ip4.SetDstU32(origin.Src.SrcIP)
		if ctx.UDP.HasChecksum() {
			ctx.UDP.SetChecksum(checksum.UpdateU32(ctx.UDP.Checksum(), key.SrcIP, ip4.DstU32()))
		}
		newDst := origin.Src.SrcPort
		if newDst != key.SrcPort && ctx.UDP.HasChecksum() {
			ctx.UDP.SetChecksum(checksum.UpdateU16(ctx.UDP.Checksum(), ctx.UDP.DstPort(), newDst))
		}
		ctx.UDP.SetDstPort(newDst)
	default:
		return
	}

	ip4.SetChecksum(0)
	ip4.SetChecksum(checksum.Compute(ip4.Bytes()))
}

// findOriginForICMP resolves the tracked flow an inbound ICMP message
// belongs to: echo/timestamp replies key directly off their request
// counterpart, while error messages (dest-unreachable, time-exceeded) must
// be resolved via the embedded original packet.
func (t *Table) findOriginForICMP(key FiveTuple, ctx *packet.Context) (Entry, bool) {
	icmpType := uint8(key.DstPort)
	switch icmpType {
	case packet.ICMPEchoReply:
		key.DstPort = uint16(packet.ICMPEcho)
		return t.lookup(key)
	case packet.ICMPTimestampReply:
		key.DstPort = uint16(packet.ICMPTimestamp)
		return t.lookup(key)
	case packet.ICMPDestUnreachable, packet.ICMPTimeExceeded:
		ref, ok := t.parseICMPPacketRef(&key, ctx)
		if !ok {
			return Entry{}, false
		}
		return ref, true
	}
	return Entry{}, false
}

// parseICMPPacketRef rewrites the embedded "original packet" carried by an
// ICMP error so the eventual recipient recognizes its own flow, per
// nat.h's parse_icmp_packet_ref. The embedded IPv4 header starts
// immediately after the ICMP header's first 8 bytes.
func (t *Table) parseICMPPacketRef(key *FiveTuple, ctx *packet.Context) (Entry, bool) {
	embedded := ctx.ICMPPayload
	if len(embedded) < 20 {
		return Entry{}, false
	}
	inner, err := packet.ParseIPv4FromBytes(embedded)
	if err != nil {
		return Entry{}, false
	}
	key.SrcIP = inner.SrcU32()
	previousIPChecksum := inner.Checksum()

	offset := int(inner.IHL()) * 4
	rest := embedded[offset:]

	switch inner.Protocol() {
	case packet.ProtoUDP:
		if len(rest) < 8 {
			return Entry{}, false
		}
		innerUDP, err := packet.ParseUDPFromBytes(rest)
		if err != nil {
			return Entry{}, false
		}
		key.Protocol = packet.ProtoUDP
		key.SrcPort = innerUDP.SrcPort()
		key.DstPort = innerUDP.DstPort()
		natEntry, ok := t.lookup(*key)
		if !ok {
			return Entry{}, false
		}
		previousUDPChecksum := innerUDP.Checksum()
		inner.SetSrcU32(natEntry.Src.SrcIP)
		ctx.ICMP.SetChecksum(checksum.UpdateU32(ctx.ICMP.Checksum(), key.SrcIP, inner.SrcU32()))
		innerUDP.SetSrcPort(natEntry.Src.SrcPort)
		if innerUDP.HasChecksum() {
			innerUDP.SetChecksum(checksum.UpdateU32(innerUDP.Checksum(), key.SrcIP, inner.SrcU32()))
			if innerUDP.SrcPort() != key.SrcPort {
				innerUDP.SetChecksum(checksum.UpdateU16(innerUDP.Checksum(), key.SrcPort, innerUDP.SrcPort()))
			}
			ctx.ICMP.SetChecksum(checksum.UpdateU16(ctx.ICMP.Checksum(), previousUDPChecksum, innerUDP.Checksum()))
		}
		inner.SetChecksum(0)
		inner.SetChecksum(checksum.Compute(inner.Bytes()))
		ctx.ICMP.SetChecksum(checksum.UpdateU16(ctx.ICMP.Checksum(), previousIPChecksum, inner.Checksum()))
		return natEntry, true

	case packet.ProtoTCP:
		if len(rest) < 20 {
			return Entry{}, false
		}
		innerTCP, err := packet.ParseTCPFromBytes(rest)
		if err != nil {
			return Entry{}, false
		}
		key.Protocol = packet.ProtoTCP
		key.SrcPort = innerTCP.SrcPort()
		key.DstPort = innerTCP.DstPort()
		natEntry, ok := t.lookup(*key)
		if !ok {
			return Entry{}, false
		}
		previousTCPChecksum := innerTCP.Checksum()
		inner.SetSrcU32(natEntry.Src.SrcIP)
		ctx.ICMP.SetChecksum(checksum.UpdateU32(ctx.ICMP.Checksum(), key.SrcIP, inner.SrcU32()))
		innerTCP.SetChecksum(checksum.UpdateU32(innerTCP.Checksum(), key.SrcIP, inner.SrcU32()))
		innerTCP.SetSrcPort(natEntry.Src.SrcPort)
		if innerTCP.SrcPort() != key.SrcPort {
			innerTCP.SetChecksum(checksum.UpdateU16(innerTCP.Checksum(), key.SrcPort, innerTCP.SrcPort()))
		}
		ctx.ICMP.SetChecksum(checksum.UpdateU16(ctx.ICMP.Checksum(), previousTCPChecksum, innerTCP.Checksum()))
		inner.SetChecksum(0)
		inner.SetChecksum(checksum.Compute(inner.Bytes()))
		ctx.ICMP.SetChecksum(checksum.UpdateU16(ctx.ICMP.Checksum(), previousIPChecksum, inner.Checksum()))
		return natEntry, true
	}

	return Entry{}, false
}
