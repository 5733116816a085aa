package nat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/checksum"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
)

func buildUDPPacket(t *testing.T, srcIP, dstIP uint32, srcPort, dstPort uint16) *packet.Context {
	t.Helper()
	buf := make([]byte, 20+8)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	buf[8] = 64
	buf[9] = packet.ProtoUDP
	binary.BigEndian.PutUint32(buf[12:16], srcIP)
	binary.BigEndian.PutUint32(buf[16:20], dstIP)

	ip4, err := packet.ParseIPv4FromBytes(buf[:20])
	require.NoError(t, err)
	ip4.SetChecksum(0)
	ip4.SetChecksum(checksum.Compute(ip4.Bytes()))

	udpBuf := buf[20:]
	binary.BigEndian.PutUint16(udpBuf[0:2], srcPort)
	binary.BigEndian.PutUint16(udpBuf[2:4], dstPort)
	binary.BigEndian.PutUint16(udpBuf[4:6], 8)
	udp, err := packet.ParseUDPFromBytes(udpBuf)
	require.NoError(t, err)

	ctx := packet.NewContext(buf, packet.InterfaceN6)
	ctx.IP4 = &ip4
	ctx.UDP = &udp
	return ctx
}

func TestSourceNATRewritesAddressAndTracksBothDirections(t *testing.T) {
	table := NewTable()
	ctx := buildUDPPacket(t, 0x0A000005, 0x5DB8D822, 54321, 443)

	const fibSrc = 0xCB00710A // 203.0.113.10
	ok := table.SourceNAT(ctx, fibSrc, 1000)
	require.True(t, ok)
	require.Equal(t, uint32(fibSrc), ctx.IP4.SrcU32())
	require.Equal(t, uint16(54321), ctx.UDP.SrcPort())

	orig := FiveTuple{SrcIP: 0x0A000005, DstIP: 0x5DB8D822, SrcPort: 54321, DstPort: 443, Protocol: packet.ProtoUDP}
	e, ok := table.lookup(orig)
	require.True(t, ok)
	require.Equal(t, uint32(fibSrc), e.Src.SrcIP)
	require.Equal(t, uint16(54321), e.Src.SrcPort)

	natted := FiveTuple{SrcIP: fibSrc, DstIP: 0x5DB8D822, SrcPort: 54321, DstPort: 443, Protocol: packet.ProtoUDP}
	reverse, ok := table.lookup(natted)
	require.True(t, ok)
	require.Equal(t, orig, reverse.Src)
}

func TestSourceNATPortCollisionReassignsPort(t *testing.T) {
	table := NewTable()

	const fibSrc = 0xCB00710A
	// Pre-occupy the natural natted tuple with an unrelated flow.
	collidingNatted := FiveTuple{SrcIP: fibSrc, DstIP: 0x5DB8D822, SrcPort: 54321, DstPort: 443, Protocol: packet.ProtoUDP}
	table.install(collidingNatted, Entry{Src: FiveTuple{SrcIP: 0x0A000099, DstIP: 0x5DB8D822, SrcPort: 54321, DstPort: 443, Protocol: packet.ProtoUDP}})

	ctx := buildUDPPacket(t, 0x0A000005, 0x5DB8D822, 54321, 443)
	ok := table.SourceNAT(ctx, fibSrc, 2000)
	require.True(t, ok)
	require.NotEqual(t, uint16(54321), ctx.UDP.SrcPort())
}

func TestDestinationNATReversesSourceNAT(t *testing.T) {
	table := NewTable()
	ctx := buildUDPPacket(t, 0x0A000005, 0x5DB8D822, 54321, 443)

	const fibSrc = 0xCB00710A
	require.True(t, table.SourceNAT(ctx, fibSrc, 1000))

	// The server's reply travels from the original destination back to
	// the NAT'd address/port pair recorded by SourceNAT.
	reply := buildUDPPacket(t, 0x5DB8D822, fibSrc, 443, ctx.UDP.SrcPort())
	table.DestinationNAT(reply)

	require.Equal(t, uint32(0x0A000005), reply.IP4.DstU32())
	require.Equal(t, uint16(54321), reply.UDP.DstPort())
}
