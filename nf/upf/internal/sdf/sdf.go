// Package sdf matches a packet's 5-tuple against a PDR's SDF sub-rules
// (§4.5), selecting the alternate FAR/QER/URR/removal IDs a match carries.
package sdf

import "github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"

// FiveTuple is the classifier key extracted from a decapsulated packet.
type FiveTuple struct {
	SrcIP    []byte
	DstIP    []byte
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Match is the outcome of resolving a PDR against a 5-tuple: which FAR/QER/
// URR/removal to apply, and whether the packet should be dropped outright
// because SDFMode is SDFOnly and nothing matched.
type Match struct {
	FARID                 uint32
	QERID                 uint32
	URRID                 uint32
	OuterHeaderRemoval    rules.OuterHeaderRemoval
	HasOuterHeaderRemoval bool
	Drop                  bool
}

// Resolve applies pdr.SDFMode to ft, returning the IDs the packet should be
// processed with.
func Resolve(pdr rules.PDR, ft FiveTuple) Match {
	if pdr.SDFMode == rules.SDFNone {
		return fromPDR(pdr)
	}

	for _, sr := range pdr.SDFRules {
		if filterMatches(sr.Filter, ft) {
			return Match{
				FARID:                 sr.FARID,
				QERID:                 sr.QERID,
				URRID:                 sr.URRID,
				OuterHeaderRemoval:    sr.OuterHeaderRemoval,
				HasOuterHeaderRemoval: sr.HasOuterHeaderRemoval,
			}
		}
	}

	if pdr.SDFMode == rules.SDFDefault {
		return fromPDR(pdr)
	}
	return Match{Drop: true}
}

func fromPDR(pdr rules.PDR) Match {
	return Match{
		FARID:                 pdr.FARID,
		QERID:                 pdr.QERID,
		URRID:                 pdr.URRID,
		OuterHeaderRemoval:    pdr.OuterHeaderRemoval,
		HasOuterHeaderRemoval: pdr.HasOuterHeaderRemoval,
	}
}

func filterMatches(f rules.SDFFilter, ft FiveTuple) bool {
	if f.HasProtocol && f.Protocol != ft.Protocol {
		return false
	}
	if !f.SrcPrefix.Contains(ft.SrcIP) {
		return false
	}
	if !f.DstPrefix.Contains(ft.DstIP) {
		return false
	}
	if !f.SrcPorts.Matches(ft.SrcPort) {
		return false
	}
	if !f.DstPorts.Matches(ft.DstPort) {
		return false
	}
	return true
}
