// Package rules holds the PDR/FAR/QER/URR rule model the control plane
// installs and the datapath consults on every packet (3GPP TS 29.244). The
// field layout is grounded directly on pdr.h's pdr_info/far_info and on the
// teacher's dataplane.PDR/FAR/QER vocabulary, restated as the exact field
// set the specification names.
package rules

// SDFMode selects how a PDR's optional SDF (service data flow) sub-rules
// are applied.
type SDFMode uint8

const (
	SDFNone    SDFMode = 0 // no SDF matching; use the PDR's top-level IDs
	SDFOnly    SDFMode = 1 // on non-match, drop
	SDFDefault SDFMode = 2 // on non-match, fall back to the top-level IDs
)

// OuterHeaderRemoval mirrors pdr.h's outer_header_removal_values enum.
type OuterHeaderRemoval uint8

const (
	OHRGTPUUDPIPv4 OuterHeaderRemoval = 0
	OHRGTPUUDPIPv6 OuterHeaderRemoval = 1
	OHRUDPIPv4     OuterHeaderRemoval = 2
	OHRUDPIPv6     OuterHeaderRemoval = 3
	OHRIPv4        OuterHeaderRemoval = 4
	OHRIPv6        OuterHeaderRemoval = 5
	OHRGTPUUDPIP   OuterHeaderRemoval = 6
	OHRVLANSTag    OuterHeaderRemoval = 7
	OHRSTagCTag    OuterHeaderRemoval = 8
)

// FARAction mirrors pdr.h's far_action_mask bit union. Only Drop/Forw/Buff/
// Nocp affect the datapath; the rest are reserved per spec §3.
type FARAction uint8

const (
	FARDrop FARAction = 0x01
	FARForw FARAction = 0x02
	FARBuff FARAction = 0x04
	FARNocp FARAction = 0x08
	FARDupl FARAction = 0x10
	FARIPMA FARAction = 0x20
	FARIPMD FARAction = 0x40
	FARDfrt FARAction = 0x80
)

// OuterHeaderCreation mirrors pdr.h's outer_header_creation_values bit
// union.
type OuterHeaderCreation uint8

const (
	OHCGTPUUDPIPv4 OuterHeaderCreation = 0x01
	OHCGTPUUDPIPv6 OuterHeaderCreation = 0x02
	OHCUDPIPv4     OuterHeaderCreation = 0x04
	OHCUDPIPv6     OuterHeaderCreation = 0x08
)

// PortRange is an inclusive [Low, High] match range. A zero value (both
// fields 0) is a wildcard.
type PortRange struct {
	Low, High uint16
}

// Matches reports whether port falls within the range, treating a zero
// range as "any port".
func (r PortRange) Matches(port uint16) bool {
	if r.Low == 0 && r.High == 0 {
		return true
	}
	return port >= r.Low && port <= r.High
}

// SDFFilter is the 5-tuple pattern matched against an SDF sub-rule (§4.5).
// Nil fields are wildcards.
type SDFFilter struct {
	SrcPrefix   *IPPrefix
	DstPrefix   *IPPrefix
	SrcPorts    PortRange
	DstPorts    PortRange
	Protocol    uint8 // matched only when HasProtocol is set
	HasProtocol bool
}

// IPPrefix is a CIDR-style prefix match over either an IPv4 or IPv6
// address, stored as big-endian bytes.
type IPPrefix struct {
	Addr     []byte // 4 or 16 bytes
	PrefixLen int
}

// Contains reports whether addr (same length as Addr) falls within the
// prefix.
func (p *IPPrefix) Contains(addr []byte) bool {
	if p == nil {
		return true
	}
	if len(addr) != len(p.Addr) {
		return false
	}
	bits := p.PrefixLen
	for i := 0; i < len(addr) && bits > 0; i++ {
		n := bits
		if n > 8 {
			n = 8
		}
		mask := byte(0xFF << (8 - n))
		if addr[i]&mask != p.Addr[i]&mask {
			return false
		}
		bits -= n
	}
	return true
}

// SDFRule pairs an SDFFilter with the alternate FAR/QER/URR/removal IDs
// applied when it matches (the sdf_rules alternate in spec §3).
type SDFRule struct {
	Filter                SDFFilter
	FARID                 uint32
	QERID                 uint32
	URRID                 uint32
	OuterHeaderRemoval    OuterHeaderRemoval
	HasOuterHeaderRemoval bool
}

// PDR is a Packet Detection Rule: classifier plus the FAR/QER/URR it
// dispatches to.
type PDR struct {
	LocalSEID uint64
	IMSI      uint64
	PDRID     uint32
	FARID     uint32
	QERID     uint32
	URRID     uint32

	OuterHeaderRemoval    OuterHeaderRemoval
	HasOuterHeaderRemoval bool

	SDFMode  SDFMode
	SDFRules []SDFRule
}

// FAR is a Forwarding Action Rule.
type FAR struct {
	ActionMask            FARAction
	OuterHeaderCreation   OuterHeaderCreation
	TEID                  uint32
	LocalIP               [4]byte
	RemoteIP              [4]byte
	TransportLevelMarking uint16
}

// QER is the immutable configuration half of a QoS Enforcement Rule; the
// mutable rate-limiter window state lives in QERState.
type QER struct {
	QFI               uint8
	ULGateOpen        bool
	DLGateOpen        bool
	ULMaximumBitrate  uint64 // bits per second
	DLMaximumBitrate  uint64
}
