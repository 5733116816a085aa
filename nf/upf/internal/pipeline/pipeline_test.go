package pipeline

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/checksum"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/config"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime/simulated"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/nat"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

var (
	gnbMAC    = [6]byte{0x02, 0, 0, 0, 0, 1}
	upfN3MAC  = [6]byte{0x02, 0, 0, 0, 0, 2}
	upfN6MAC  = [6]byte{0x02, 0, 0, 0, 0, 3}
	serverMAC = [6]byte{0x02, 0, 0, 0, 0, 4}
)

func buildIPv4(srcIP, dstIP [4]byte, proto uint8, payload []byte) []byte {
	b := make([]byte, 20+len(payload))
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	binary.BigEndian.PutUint16(b[6:8], 0x4000) // DF set
	b[8] = 64
	b[9] = proto
	copy(b[12:16], srcIP[:])
	copy(b[16:20], dstIP[:])
	binary.BigEndian.PutUint16(b[10:12], checksum.Compute(b[:20]))
	copy(b[20:], payload)
	return b
}

func buildUDP(srcPort, dstPort uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(b)))
	copy(b[8:], payload)
	return b
}

func buildGTPU(teid uint32, innerIP []byte) []byte {
	b := make([]byte, 8+len(innerIP))
	packet.BuildGPDUHeader(b, teid, uint16(len(innerIP)))
	copy(b[8:], innerIP)
	return b
}

func buildEthernet(src, dst [6]byte, etherType uint16, payload []byte) []byte {
	b := make([]byte, 14+len(payload))
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	binary.BigEndian.PutUint16(b[12:14], etherType)
	copy(b[14:], payload)
	return b
}

func buildIPv6(srcIP, dstIP [16]byte, nextHeader uint8, payload []byte) []byte {
	b := make([]byte, 40+len(payload))
	b[0] = 0x60
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	b[6] = nextHeader
	b[7] = 64
	copy(b[8:24], srcIP[:])
	copy(b[24:40], dstIP[:])
	copy(b[40:], payload)
	return b
}

func TestUplinkDecapsulatesClassifiesAndMasquerades(t *testing.T) {
	tables := rules.NewTables(4)
	tables.InstallFAR(1, rules.FAR{ActionMask: rules.FARForw})
	tables.InstallQER(1, rules.QER{ULGateOpen: true, DLGateOpen: true}, 0)
	tables.InstallPDRUplink(0x1234, rules.PDR{PDRID: 1, FARID: 1, QERID: 1})

	natTable := nat.NewTable()

	rt := simulated.NewRuntime(zap.NewNop(), 16)
	_, cidr, _ := net.ParseCIDR("93.184.216.0/24")
	rt.InstallRoute(simulated.Route{
		DstCIDR:       cidr,
		SrcIP:         []byte{203, 0, 113, 10},
		EgressIfindex: 6,
		HasNeighbor:   true,
		NeighborMAC:   serverMAC,
		MTU:           1500,
	})

	cfg := &config.Config{Datapath: config.DatapathConfig{
		N3Ifindex: 3, N6Ifindex: 6, Masquerade: true,
	}}
	tel := telemetry.New(4, 16)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	innerIP := buildIPv4([4]byte{10, 0, 0, 5}, [4]byte{93, 184, 216, 34}, packet.ProtoUDP,
		buildUDP(54321, 443, []byte("hello")))
	gtpu := buildGTPU(0x1234, innerIP)
	outerIP := buildIPv4([4]byte{198, 51, 100, 1}, [4]byte{198, 51, 100, 2}, packet.ProtoUDP,
		buildUDP(2152, 2152, gtpu))
	frame := buildEthernet(gnbMAC, upfN3MAC, packet.EthTypeIPv4, outerIP)

	out, result := p.Process(frame, packet.InterfaceN3, 0, 1000)
	require.Equal(t, action.Redirect, result.Action)
	require.Equal(t, 6, result.EgressIfindex)

	ctx, err := packet.ParseFrame(out, packet.InterfaceN3)
	require.NoError(t, err)
	require.NotNil(t, ctx.IP4)
	require.Equal(t, []byte{203, 0, 113, 10}, ctx.IP4.SrcIP())
	require.Equal(t, []byte{93, 184, 216, 34}, ctx.IP4.DstIP())
	require.Equal(t, serverMAC[:], ctx.Eth.DstMAC())

	require.Equal(t, uint64(1), tel.UplinkRoute.OK.Total())
}

func TestUplinkPassesWhenNoMatchingPDR(t *testing.T) {
	tables := rules.NewTables(4)
	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	innerIP := buildIPv4([4]byte{10, 0, 0, 5}, [4]byte{93, 184, 216, 34}, packet.ProtoUDP,
		buildUDP(54321, 443, []byte("x")))
	gtpu := buildGTPU(0x9999, innerIP)
	outerIP := buildIPv4([4]byte{198, 51, 100, 1}, [4]byte{198, 51, 100, 2}, packet.ProtoUDP,
		buildUDP(2152, 2152, gtpu))
	frame := buildEthernet(gnbMAC, upfN3MAC, packet.EthTypeIPv4, outerIP)

	_, result := p.Process(frame, packet.InterfaceN3, 0, 1000)
	require.Equal(t, action.Pass, result.Action)
	require.Equal(t, uint64(0), tel.Uplink.Dropped.Total())
}

func TestDownlinkEncapsulatesAndRoutesTowardRAN(t *testing.T) {
	tables := rules.NewTables(4)
	tables.InstallFAR(2, rules.FAR{
		ActionMask:          rules.FARForw,
		OuterHeaderCreation: rules.OHCGTPUUDPIPv4,
		TEID:                0x1234,
		LocalIP:             [4]byte{198, 51, 100, 1},
		RemoteIP:            [4]byte{198, 51, 100, 2},
	})
	tables.InstallQER(9, rules.QER{QFI: 9, ULGateOpen: true, DLGateOpen: true}, 0)
	tables.InstallPDRDownlinkV4(binary.BigEndian.Uint32([]byte{10, 0, 0, 5}), rules.PDR{
		PDRID: 2, FARID: 2, QERID: 9,
	})

	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	_, cidr, _ := net.ParseCIDR("198.51.100.0/24")
	rt.InstallRoute(simulated.Route{
		DstCIDR: cidr, EgressIfindex: 3, HasNeighbor: true, NeighborMAC: gnbMAC, MTU: 1500,
	})

	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6, EgressMTU: 1500}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	payload := buildIPv4([4]byte{93, 184, 216, 34}, [4]byte{10, 0, 0, 5}, packet.ProtoUDP,
		buildUDP(443, 54321, []byte("reply")))
	frame := buildEthernet(serverMAC, upfN6MAC, packet.EthTypeIPv4, payload)

	out, result := p.Process(frame, packet.InterfaceN6, 0, 1000)
	require.Equal(t, action.Redirect, result.Action)
	require.Equal(t, 3, result.EgressIfindex)
	require.Equal(t, gnbMAC[:], out[0:6])

	ctx, err := packet.ParseFrame(out, packet.InterfaceN6)
	require.NoError(t, err)
	require.NotNil(t, ctx.GTPU)
	require.Equal(t, uint32(0x1234), ctx.GTPU.TEID())
	qfi, ok := ctx.GTPU.QFI()
	require.True(t, ok)
	require.Equal(t, uint8(9), qfi)
}

func TestDownlinkFragmentationNeededWhenExceedingMTU(t *testing.T) {
	tables := rules.NewTables(4)
	tables.InstallFAR(3, rules.FAR{
		ActionMask:          rules.FARForw,
		OuterHeaderCreation: rules.OHCGTPUUDPIPv4,
		TEID:                0x55,
		LocalIP:             [4]byte{198, 51, 100, 1},
		RemoteIP:            [4]byte{198, 51, 100, 2},
	})
	tables.InstallPDRDownlinkV4(binary.BigEndian.Uint32([]byte{10, 0, 0, 9}), rules.PDR{
		PDRID: 3, FARID: 3,
	})

	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)

	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6, EgressMTU: 1400}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	bigPayload := make([]byte, 1500-20-8)
	payload := buildIPv4([4]byte{93, 184, 216, 34}, [4]byte{10, 0, 0, 9}, packet.ProtoUDP,
		buildUDP(443, 54321, bigPayload))
	require.Equal(t, 1500, len(payload))
	frame := buildEthernet(serverMAC, upfN6MAC, packet.EthTypeIPv4, payload)

	_, result := p.Process(frame, packet.InterfaceN6, 0, 1000)
	require.Equal(t, action.TX, result.Action)
}

func TestDownlinkPassesTruncatedFrame(t *testing.T) {
	tables := rules.NewTables(4)
	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	truncated := []byte{0x02, 0, 0, 0, 0, 3, 0x02}

	_, result := p.Process(truncated, packet.InterfaceN6, 0, 1000)
	require.Equal(t, action.Pass, result.Action)
}

func TestUplinkPassesTruncatedFrame(t *testing.T) {
	tables := rules.NewTables(4)
	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	truncated := []byte{0x02, 0, 0, 0, 0, 2, 0x02}

	_, result := p.Process(truncated, packet.InterfaceN3, 0, 1000)
	require.Equal(t, action.Pass, result.Action)
}

func TestUplinkMTUViolationEmitsFragNeeded(t *testing.T) {
	tables := rules.NewTables(4)
	tables.InstallFAR(1, rules.FAR{ActionMask: rules.FARForw})
	tables.InstallQER(1, rules.QER{ULGateOpen: true, DLGateOpen: true}, 0)
	tables.InstallPDRUplink(0x1234, rules.PDR{PDRID: 1, FARID: 1, QERID: 1})

	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	_, cidr, _ := net.ParseCIDR("93.184.216.0/24")
	rt.InstallRoute(simulated.Route{
		DstCIDR: cidr, EgressIfindex: 6, HasNeighbor: true, NeighborMAC: serverMAC, MTU: 1400,
	})

	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	bigPayload := make([]byte, 1500-20-8)
	innerIP := buildIPv4([4]byte{10, 0, 0, 5}, [4]byte{93, 184, 216, 34}, packet.ProtoUDP,
		buildUDP(54321, 443, bigPayload))
	require.Equal(t, 1500, len(innerIP))
	gtpu := buildGTPU(0x1234, innerIP)
	outerIP := buildIPv4([4]byte{198, 51, 100, 1}, [4]byte{198, 51, 100, 2}, packet.ProtoUDP,
		buildUDP(2152, 2152, gtpu))
	frame := buildEthernet(gnbMAC, upfN3MAC, packet.EthTypeIPv4, outerIP)

	out, result := p.Process(frame, packet.InterfaceN3, 0, 1000)
	require.Equal(t, action.TX, result.Action)

	ctx, err := packet.ParseFrame(out, packet.InterfaceN3)
	require.NoError(t, err)
	require.NotNil(t, ctx.ICMP)
	require.Equal(t, uint8(packet.ICMPDestUnreachable), ctx.ICMP.Type())
	require.Equal(t, uint8(packet.ICMPCodeFragNeeded), ctx.ICMP.Code())
}

func TestDownlinkDispatchesIPv6DestinedPDR(t *testing.T) {
	tables := rules.NewTables(4)
	tables.InstallFAR(4, rules.FAR{
		ActionMask:          rules.FARForw,
		OuterHeaderCreation: rules.OHCGTPUUDPIPv4,
		TEID:                0x77,
		LocalIP:             [4]byte{198, 51, 100, 1},
		RemoteIP:            [4]byte{198, 51, 100, 2},
	})
	tables.InstallQER(7, rules.QER{QFI: 7, ULGateOpen: true, DLGateOpen: true}, 0)

	ueV6 := [16]byte{0x20, 0x01, 0x0d, 0xb8}
	tables.InstallPDRDownlinkV6(ueV6, rules.PDR{PDRID: 4, FARID: 4, QERID: 7})

	natTable := nat.NewTable()
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	_, cidr, _ := net.ParseCIDR("198.51.100.0/24")
	rt.InstallRoute(simulated.Route{
		DstCIDR: cidr, EgressIfindex: 3, HasNeighbor: true, NeighborMAC: gnbMAC, MTU: 1500,
	})

	cfg := &config.Config{Datapath: config.DatapathConfig{N3Ifindex: 3, N6Ifindex: 6, EgressMTU: 1500}}
	tel := telemetry.New(4, 0)
	p := New(cfg, tables, natTable, rt, tel, zap.NewNop())

	var serverV6, ueSrc [16]byte
	serverV6[15] = 1
	copy(ueSrc[:], ueV6[:])
	payload := buildIPv6(serverV6, ueV6, packet.ProtoUDP, buildUDP(443, 54321, []byte("reply")))
	frame := buildEthernet(serverMAC, upfN6MAC, packet.EthTypeIPv6, payload)

	out, result := p.Process(frame, packet.InterfaceN6, 0, 1000)
	require.Equal(t, action.Redirect, result.Action)
	require.Equal(t, 3, result.EgressIfindex)
	require.Equal(t, gnbMAC[:], out[0:6])

	ctx, err := packet.ParseFrame(out, packet.InterfaceN6)
	require.NoError(t, err)
	require.NotNil(t, ctx.GTPU)
	require.Equal(t, uint32(0x77), ctx.GTPU.TEID())
	qfi, ok := ctx.GTPU.QFI()
	require.True(t, ok)
	require.Equal(t, uint8(7), qfi)
}
