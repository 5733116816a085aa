// Package hostruntime defines the narrow interface the pipeline uses to
// reach the kernel: FIB lookups and the no-neighbor/control-plane
// notification rings. Spec.md §1 treats these as an external collaborator
// the datapath consults but does not implement; two adapters exist —
// simulated (an in-memory test double) and rawsock (a Linux raw-socket
// adapter for integration use).
package hostruntime

// FIBResult mirrors the kernel bpf_fib_lookup verdict codes this datapath
// distinguishes.
type FIBResult int

const (
	FIBSuccess FIBResult = iota
	FIBNoNeigh
	FIBBlackhole
	FIBUnreachable
	FIBProhibit
	FIBNoSrcAddr
	FIBNotForwarded
	FIBForwardingDisabled
	FIBUnsupportedLWT
	FIBFragNeeded
)

// FIBParams is the lookup key spec.md §4.9 names: the packet's 5-tuple
// essentials plus ingress context.
type FIBParams struct {
	SrcIP          []byte // 4 or 16 bytes
	DstIP          []byte
	L4Protocol     uint8
	TOS            uint8
	TotalLen       uint16
	IngressIfindex int
	ResolveSrcAddr bool // "masquerade" flag: ask the kernel to also pick a source address
}

// FIBLookupResult carries the kernel's answer: resolved MACs, egress
// interface, and (when ResolveSrcAddr was set) the chosen source address.
type FIBLookupResult struct {
	Result      FIBResult
	SrcMAC      [6]byte
	DstMAC      [6]byte
	EgressIfindex int
	SrcIP       []byte // populated only when ResolveSrcAddr was requested and a route matched (FIBSuccess or FIBNoNeigh)
	MTU         int
}

// ControlPlaneNotification is the {local_seid, pdr_id, qfi} tuple spec.md
// §4.4 emits when a FAR asks to buffer or notify the control plane.
type ControlPlaneNotification struct {
	LocalSEID uint64
	PDRID     uint32
	QFI       uint8
}

// HostRuntime is the kernel-facing surface the router and uplink
// pre-check consult. Implementations must be safe for concurrent use by
// multiple pipeline invocations running on distinct packets.
type HostRuntime interface {
	// FIBLookup resolves next-hop MACs/egress interface/MTU for p.
	FIBLookup(p FIBParams) (FIBLookupResult, error)

	// NotifyNoNeighbor records that dstIP resolved to a route with no
	// cached L2 neighbor, mirroring the no_neigh_map ring buffer.
	NotifyNoNeighbor(dstIP []byte)

	// NotifyControlPlane emits a buffering/NOCP notification, mirroring
	// the nocp_map ring buffer.
	NotifyControlPlane(localSEID uint64, pdrID uint32, qfi uint8)
}
