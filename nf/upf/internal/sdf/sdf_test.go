package sdf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
)

func TestResolveSDFNoneUsesPDRTopLevel(t *testing.T) {
	pdr := rules.PDR{FARID: 1, QERID: 2, URRID: 3, SDFMode: rules.SDFNone}
	m := Resolve(pdr, FiveTuple{})
	require.False(t, m.Drop)
	require.Equal(t, uint32(1), m.FARID)
}

func TestResolveSDFOnlyDropsOnNoMatch(t *testing.T) {
	pdr := rules.PDR{
		FARID:   1,
		SDFMode: rules.SDFOnly,
		SDFRules: []rules.SDFRule{
			{
				Filter: rules.SDFFilter{DstPorts: rules.PortRange{Low: 443, High: 443}, HasProtocol: true, Protocol: 6},
				FARID:  9,
			},
		},
	}
	m := Resolve(pdr, FiveTuple{Protocol: 17, DstPort: 80})
	require.True(t, m.Drop)
}

func TestResolveSDFOnlyMatchesSubRule(t *testing.T) {
	pdr := rules.PDR{
		SDFMode: rules.SDFOnly,
		SDFRules: []rules.SDFRule{
			{
				Filter: rules.SDFFilter{DstPorts: rules.PortRange{Low: 443, High: 443}, HasProtocol: true, Protocol: 6},
				FARID:  9, QERID: 4, URRID: 5,
			},
		},
	}
	m := Resolve(pdr, FiveTuple{Protocol: 6, DstPort: 443})
	require.False(t, m.Drop)
	require.Equal(t, uint32(9), m.FARID)
	require.Equal(t, uint32(4), m.QERID)
}

func TestResolveSDFDefaultFallsBackOnNoMatch(t *testing.T) {
	pdr := rules.PDR{
		FARID:   1,
		SDFMode: rules.SDFDefault,
		SDFRules: []rules.SDFRule{
			{Filter: rules.SDFFilter{DstPorts: rules.PortRange{Low: 443, High: 443}}, FARID: 9},
		},
	}
	m := Resolve(pdr, FiveTuple{DstPort: 80})
	require.False(t, m.Drop)
	require.Equal(t, uint32(1), m.FARID)
}

func TestIPPrefixContains(t *testing.T) {
	p := &rules.IPPrefix{Addr: []byte{10, 0, 0, 0}, PrefixLen: 8}
	require.True(t, p.Contains([]byte{10, 1, 2, 3}))
	require.False(t, p.Contains([]byte{11, 1, 2, 3}))
}
