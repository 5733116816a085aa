package packet

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	gnbMAC = [6]byte{0x02, 0, 0, 0, 0, 1}
	upfMAC = [6]byte{0x02, 0, 0, 0, 0, 2}
)

func buildEthernetFrame(etherType uint16, payload []byte) []byte {
	b := make([]byte, EthernetHeaderLen+len(payload))
	copy(b[0:6], upfMAC[:])
	copy(b[6:12], gnbMAC[:])
	binary.BigEndian.PutUint16(b[12:14], etherType)
	copy(b[14:], payload)
	return b
}

func buildIPv4Frame(proto uint8, payload []byte) []byte {
	b := make([]byte, IPv4MinHeaderLen+len(payload))
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	b[8] = 64
	b[9] = proto
	copy(b[12:16], []byte{10, 0, 0, 5})
	copy(b[16:20], []byte{93, 184, 216, 34})
	copy(b[20:], payload)
	return b
}

func buildUDPSegment(srcPort, dstPort uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(b)))
	copy(b[8:], payload)
	return b
}

func TestParseFrameDecodesPlainIPv4UDP(t *testing.T) {
	udp := buildUDPSegment(1234, 5678, []byte("hello"))
	ip := buildIPv4Frame(ProtoUDP, udp)
	frame := buildEthernetFrame(EthTypeIPv4, ip)

	ctx, err := ParseFrame(frame, InterfaceN6)
	require.NoError(t, err)
	require.NotNil(t, ctx.IP4)
	require.Nil(t, ctx.IP6)
	require.Nil(t, ctx.GTPU)
	require.NotNil(t, ctx.UDP)
	require.Equal(t, uint16(1234), ctx.UDP.SrcPort())
	require.Equal(t, uint16(5678), ctx.UDP.DstPort())
	require.Equal(t, InterfaceN6, ctx.Ingress)
}

func TestParseFrameDecapsulatesGTPUAndExposesInnerHeaders(t *testing.T) {
	innerUDP := buildUDPSegment(54321, 443, []byte("payload"))
	innerIP := buildIPv4Frame(ProtoUDP, innerUDP)

	gtpu := make([]byte, GTPUHeaderLen+len(innerIP))
	BuildGPDUHeader(gtpu, 0xABCD, uint16(len(innerIP)))
	copy(gtpu[GTPUHeaderLen:], innerIP)

	outerUDP := buildUDPSegment(2152, 2152, gtpu)
	outerIP := buildIPv4Frame(ProtoUDP, outerUDP)
	frame := buildEthernetFrame(EthTypeIPv4, outerIP)

	ctx, err := ParseFrame(frame, InterfaceN3)
	require.NoError(t, err)
	require.NotNil(t, ctx.GTPU)
	require.Equal(t, uint32(0xABCD), ctx.GTPU.TEID())

	// The inner IP/UDP view replaces the outer one; the GTP-U header is
	// retained for its TEID but ctx.UDP no longer refers to port 2152.
	require.NotNil(t, ctx.IP4)
	require.NotNil(t, ctx.UDP)
	require.Equal(t, uint16(54321), ctx.UDP.SrcPort())
	require.Equal(t, uint16(443), ctx.UDP.DstPort())
	require.Greater(t, ctx.InnerOffset(), 0)
}

func TestParseFrameLeavesIPNilForNonIPEtherType(t *testing.T) {
	frame := buildEthernetFrame(EthTypeARP, []byte{0, 1, 2, 3})

	ctx, err := ParseFrame(frame, InterfaceN3)
	require.NoError(t, err)
	require.Nil(t, ctx.IP4)
	require.Nil(t, ctx.IP6)
}

func TestParseFrameGTPUControlMessageLeavesNoInnerPacket(t *testing.T) {
	echo := make([]byte, GTPUHeaderLen)
	echo[0] = 0x30
	echo[1] = GTPUEchoRequest

	outerUDP := buildUDPSegment(2152, 2152, echo)
	outerIP := buildIPv4Frame(ProtoUDP, outerUDP)
	frame := buildEthernetFrame(EthTypeIPv4, outerIP)

	ctx, err := ParseFrame(frame, InterfaceN3)
	require.NoError(t, err)
	require.NotNil(t, ctx.GTPU)
	require.Equal(t, uint8(GTPUEchoRequest), ctx.GTPU.MessageType())
}

func TestParseFrameRejectsTruncatedBuffer(t *testing.T) {
	_, err := ParseFrame([]byte{0, 1, 2}, InterfaceN3)
	require.Error(t, err)
}

func TestGuessEthProtocol(t *testing.T) {
	ethType, ok := GuessEthProtocol(0x45)
	require.True(t, ok)
	require.Equal(t, uint16(EthTypeIPv4), ethType)

	ethType, ok = GuessEthProtocol(0x60)
	require.True(t, ok)
	require.Equal(t, uint16(EthTypeIPv6), ethType)

	_, ok = GuessEthProtocol(0x00)
	require.False(t, ok)
}
