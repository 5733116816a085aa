package router

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime/simulated"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

func testContext(t *testing.T) *packet.Context {
	t.Helper()
	buf := make([]byte, 14+20)
	eth, err := packet.ParseEthernetFromBytes(buf[:14])
	require.NoError(t, err)

	ctx := packet.NewContext(buf, packet.InterfaceN3)
	ctx.Eth = eth
	return ctx
}

func TestRouteSuccessRewritesMACsAndRedirectsAcrossInterfaces(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("93.184.216.0/24")
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	rt.InstallRoute(simulated.Route{
		DstCIDR:       cidr,
		EgressIfindex: 6,
		HasNeighbor:   true,
		NeighborMAC:   [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		MTU:           1500,
	})

	ctx := testContext(t)
	stats := telemetry.New(4, 0).UplinkRoute
	fib := hostruntime.FIBParams{
		DstIP:          net.ParseIP("93.184.216.34").To4(),
		IngressIfindex: 3,
	}

	result := Route(rt, ctx, fib, stats)
	require.Equal(t, action.Redirect, result.Action)
	require.Equal(t, 6, result.EgressIfindex)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, ctx.Eth.DstMAC())
	require.Equal(t, uint64(1), stats.OK.Total())
}

func TestRouteSameInterfaceReturnsTX(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("10.0.0.0/24")
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	rt.InstallRoute(simulated.Route{
		DstCIDR:       cidr,
		EgressIfindex: 3,
		HasNeighbor:   true,
		NeighborMAC:   [6]byte{1, 2, 3, 4, 5, 6},
	})

	ctx := testContext(t)
	stats := telemetry.New(4, 0).UplinkRoute
	fib := hostruntime.FIBParams{DstIP: net.ParseIP("10.0.0.5").To4(), IngressIfindex: 3}

	result := Route(rt, ctx, fib, stats)
	require.Equal(t, action.TX, result.Action)
}

func TestRouteNoNeighborBroadcastsAndNotifies(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("10.0.0.0/24")
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	rt.InstallRoute(simulated.Route{DstCIDR: cidr, EgressIfindex: 6, HasNeighbor: false})

	ctx := testContext(t)
	stats := telemetry.New(4, 0).UplinkRoute
	fib := hostruntime.FIBParams{DstIP: net.ParseIP("10.0.0.5").To4(), IngressIfindex: 3}

	result := Route(rt, ctx, fib, stats)
	require.Equal(t, action.Redirect, result.Action)
	require.Equal(t, broadcastMAC[:], ctx.Eth.DstMAC())

	select {
	case <-rt.NoNeighborCh:
	default:
		t.Fatal("expected a no-neighbor notification")
	}
}

func TestRouteUnreachableDrops(t *testing.T) {
	rt := simulated.NewRuntime(zap.NewNop(), 16)
	ctx := testContext(t)
	stats := telemetry.New(4, 0).UplinkRoute
	fib := hostruntime.FIBParams{DstIP: net.ParseIP("203.0.113.9").To4(), IngressIfindex: 3}

	result := Route(rt, ctx, fib, stats)
	require.Equal(t, action.Drop, result.Action)
	require.Equal(t, uint64(1), stats.ErrorDrop.Total())
}
