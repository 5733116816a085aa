// Package gtputil implements GTP-U tunnel encapsulation, decapsulation,
// in-place tunnel update, and echo-reply synthesis per spec.md §4.8 and the
// wire format in 3GPP TS 29.281, grounded on the teacher's
// nf/upf/internal/gtpu/handler.go framing and on original_source's
// encap_gtp/decap_gtp helpers.
package gtputil

import (
	"encoding/binary"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/checksum"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
)

const (
	gtpUPort = 2152

	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	gtpHeaderLen  = 8
	// extHeaderLen is the 4-byte optional word (sequence number, N-PDU
	// number, next extension header type) plus the 4-byte PDU Session
	// Container that follows it.
	extHeaderLen = 8

	// EncapSizeNoQFI / EncapSizeWithQFI are the outer header growth
	// Encapsulate adds, used by the downlink MTU pre-check.
	EncapSizeNoQFI   = ipv4HeaderLen + udpHeaderLen + gtpHeaderLen
	EncapSizeWithQFI = EncapSizeNoQFI + extHeaderLen
)

// TunnelParams describes the outer GTP-U-over-IPv4 header Encapsulate
// writes.
type TunnelParams struct {
	SrcIP [4]byte
	DstIP [4]byte
	TEID  uint32
	TOS   uint8
	QFI   uint8 // 0 means no PDU Session Container
}

// Encapsulate prepends a GTP-U-over-UDP-over-IPv4 header in front of
// payload, returning the new frame with headroom bytes of unused space at
// the front reserved for the Ethernet header the router fills in later.
// The outer IPv4 checksum is computed; the UDP checksum is left at zero
// per spec.md §4.8.
func Encapsulate(payload []byte, headroom int, p TunnelParams) []byte {
	hasQFI := p.QFI != 0
	outerLen := EncapSizeNoQFI
	if hasQFI {
		outerLen = EncapSizeWithQFI
	}

	out := make([]byte, headroom+outerLen+len(payload))
	ip4Buf := out[headroom : headroom+ipv4HeaderLen]
	udpBuf := out[headroom+ipv4HeaderLen : headroom+ipv4HeaderLen+udpHeaderLen]
	gtpBuf := out[headroom+ipv4HeaderLen+udpHeaderLen : headroom+outerLen]
	copy(out[headroom+outerLen:], payload)

	gtpPayloadLen := len(payload)
	if hasQFI {
		gtpPayloadLen += extHeaderLen
	}
	udpLen := udpHeaderLen + gtpHeaderLen + gtpPayloadLen

	buildIPv4(ip4Buf, p, uint16(udpLen))

	binary.BigEndian.PutUint16(udpBuf[0:2], gtpUPort)
	binary.BigEndian.PutUint16(udpBuf[2:4], gtpUPort)
	binary.BigEndian.PutUint16(udpBuf[4:6], uint16(udpLen))
	binary.BigEndian.PutUint16(udpBuf[6:8], 0)

	packet.BuildGPDUHeader(gtpBuf, p.TEID, uint16(gtpPayloadLen))
	if hasQFI {
		gtpBuf[0] |= 0x04 // set E flag: extension header present
		// optional word: sequence number and N-PDU number unused, then the
		// next extension header type.
		gtpBuf[8], gtpBuf[9], gtpBuf[10] = 0, 0, 0
		gtpBuf[11] = packet.ExtHeaderPDUSessionContainer
		extBuf := out[headroom+outerLen-4 : headroom+outerLen]
		packet.BuildPDUSessionContainer(extBuf, packet.PDUTypeDownlink, p.QFI)
	}

	return out
}

func buildIPv4(b []byte, p TunnelParams, payloadLen uint16) {
	b[0] = 0x45
	b[1] = p.TOS
	binary.BigEndian.PutUint16(b[2:4], ipv4HeaderLen+payloadLen)
	binary.BigEndian.PutUint16(b[4:6], 0)
	binary.BigEndian.PutUint16(b[6:8], 0)
	b[8] = 64
	b[9] = packet.ProtoUDP
	b[10], b[11] = 0, 0
	copy(b[12:16], p.SrcIP[:])
	copy(b[16:20], p.DstIP[:])
	binary.BigEndian.PutUint16(b[10:12], checksum.Compute(b))
}

// Decapsulate strips the outer IPv4+UDP+GTP-U header stack (including any
// extension headers) identified by outerLen bytes, preserving the leading
// headroom bytes (the Ethernet header) at the front of the returned frame.
func Decapsulate(frame []byte, headroom, outerLen int) []byte {
	inner := frame[headroom+outerLen:]
	out := make([]byte, headroom+len(inner))
	copy(out[:headroom], frame[:headroom])
	copy(out[headroom:], inner)
	return out
}

// UpdateTunnel rewrites an existing outer GTP-U-over-IPv4 header in place
// with new endpoints/TEID, without changing the packet length, per
// spec.md §4.8's "update tunnel" operation.
func UpdateTunnel(ip4 packet.IPv4Header, gtp packet.GTPUHeader, p TunnelParams) {
	ip4.SetSrcU32(binary.BigEndian.Uint32(p.SrcIP[:]))
	ip4.SetDstU32(binary.BigEndian.Uint32(p.DstIP[:]))
	ip4.SetChecksum(0)
	ip4.SetChecksum(checksum.Compute(ip4.Bytes()))
	gtp.SetTEID(p.TEID)
}

// EchoReply turns a received GTP-U Echo Request frame into an Echo
// Response in place: swap Ethernet MACs, swap IPv4 addresses, recompute
// the IPv4 checksum, set the GTP message type, and preserve the sequence
// number. The headers are already parsed by the caller, so it always
// returns true.
func EchoReply(eth packet.EthernetHeader, ip4 packet.IPv4Header, gtp packet.GTPUHeader) bool {
	eth.SwapMACs()

	src := ip4.SrcU32()
	dst := ip4.DstU32()
	ip4.SetSrcU32(dst)
	ip4.SetDstU32(src)
	ip4.SetChecksum(0)
	ip4.SetChecksum(checksum.Compute(ip4.Bytes()))

	gtp.SetMessageType(packet.GTPUEchoResponse)
	return true
}
