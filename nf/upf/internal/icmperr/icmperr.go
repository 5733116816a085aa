// Package icmperr synthesizes ICMP "fragmentation needed" replies
// (spec.md §4.10) when encapsulation would exceed the egress MTU,
// grounded on original_source's frag_needed.h frag_needed_ipv4.
package icmperr

import (
	"encoding/binary"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/checksum"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
)

const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	icmpHeaderLen = 8
	embeddedBytes = ipv4HeaderLen + 8

	// replyPacketLen is the total frame length of a frag-needed reply:
	// Ethernet + IPv4 + ICMP + (embedded IPv4 header + 8 bytes).
	replyPacketLen = ethHeaderLen + ipv4HeaderLen + icmpHeaderLen + embeddedBytes
)

// FragmentationNeeded builds the frag-needed ICMP reply frame for an
// original IPv4 frame whose encapsulation would have exceeded mtu.
// originalEth is the original 14-byte Ethernet header; originalIP4 is the
// original IPv4 header followed by at least 8 bytes of its payload (only
// that much is embedded in the reply, per spec.md §4.10). srcIP is the
// source address for the reply as the caller passes it: the pipeline
// uses the outer GTP-U destination address on uplink and the FAR's local
// address on downlink; no reverse FIB lookup is made. Returns (frame,
// true) on success, or (nil, false) if the original packet's
// Don't-Fragment bit is clear — per spec.md, that case is a silent DROP,
// not an ICMP reply, since ordinary IP allows fragmentation.
func FragmentationNeeded(originalEth []byte, originalIP4 []byte, srcIP [4]byte, mtu uint16) ([]byte, bool) {
	ip4, err := packet.ParseIPv4FromBytes(originalIP4)
	if err != nil {
		return nil, false
	}
	if !ip4.DontFragment() {
		return nil, false
	}

	frame := make([]byte, replyPacketLen)

	eth := frame[:ethHeaderLen]
	copy(eth[0:6], originalEth[6:12]) // dst = original src
	copy(eth[6:12], originalEth[0:6]) // src = original dst
	copy(eth[12:14], originalEth[12:14])

	newIP := frame[ethHeaderLen : ethHeaderLen+ipv4HeaderLen]
	newIP[0] = 0x45
	newIP[1] = 0
	binary.BigEndian.PutUint16(newIP[2:4], ipv4HeaderLen+icmpHeaderLen+embeddedBytes)
	binary.BigEndian.PutUint16(newIP[4:6], 0)
	binary.BigEndian.PutUint16(newIP[6:8], 0)
	newIP[8] = 64
	newIP[9] = packet.ProtoICMP
	copy(newIP[12:16], srcIP[:])
	copy(newIP[16:20], ip4.SrcIP()) // dst = original src
	binary.BigEndian.PutUint16(newIP[10:12], 0)
	binary.BigEndian.PutUint16(newIP[10:12], checksum.Compute(newIP))

	icmp := frame[ethHeaderLen+ipv4HeaderLen : ethHeaderLen+ipv4HeaderLen+icmpHeaderLen]
	icmp[0] = packet.ICMPDestUnreachable
	icmp[1] = packet.ICMPCodeFragNeeded
	binary.BigEndian.PutUint16(icmp[4:6], 0)
	binary.BigEndian.PutUint16(icmp[6:8], mtu)

	embedded := frame[ethHeaderLen+ipv4HeaderLen+icmpHeaderLen:]
	copy(embedded, originalIP4)

	icmpAndPayload := frame[ethHeaderLen+ipv4HeaderLen : ethHeaderLen+ipv4HeaderLen+icmpHeaderLen+embeddedBytes]
	binary.BigEndian.PutUint16(icmpAndPayload[2:4], 0)
	binary.BigEndian.PutUint16(icmpAndPayload[2:4], checksum.Compute(icmpAndPayload))

	return frame, true
}
