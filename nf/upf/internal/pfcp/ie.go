package pfcp

import (
	"encoding/binary"
	"fmt"
)

// Information Element types this UPF understands (3GPP TS 29.244 §8.1.2).
// Only the subset spec.md's rule model needs is decoded; unrecognized IEs
// are skipped rather than rejected, so a session request carrying IEs this
// datapath doesn't act on (QoS monitoring, usage thresholds, ...) still
// installs the rules it does understand.
const (
	ieCreatePDR           = 1
	iePDI                 = 2
	ieCreateFAR           = 3
	ieForwardingParams    = 4
	ieUpdatePDR           = 9
	ieUpdateFAR           = 10
	ieUpdateForwardingParams = 11
	ieRemovePDR           = 15
	ieRemoveFAR           = 16
	ieCause               = 19
	ieSourceInterface     = 20
	ieFTEID               = 21
	ieNetworkInstance     = 22
	iePDRID               = 56
	ieFSEID               = 57
	ieNodeID              = 60
	iePDNType             = 113
	ieFARID               = 108
	ieQERID               = 109
	ieURRID               = 81
	ieOuterHeaderRemoval  = 95
	ieApplyAction         = 44
	ieOuterHeaderCreation = 84
	ieDestinationInterface = 42
	ieSDFFilter           = 23
	ieUEIPAddress         = 93
	ieCreateQER           = 7
	ieUpdateQER           = 14
	ieRemoveQER           = 18
	ieGateStatus          = 25
	ieMBR                 = 26
	ieQFI                 = 124
	ieCreateURR           = 6
	ieUpdateURR           = 13
	ieRemoveURR           = 17
	ieMeasurementMethod   = 62
	ieReportingTriggers   = 37
)

// ie is a single decoded Information Element: its type, and its value
// bytes (grouped IEs recurse by re-running parseIEs over Value).
type ie struct {
	Type  uint16
	Value []byte
}

// parseIEs walks a TLV-encoded IE sequence: 2-byte type, 2-byte length,
// then length bytes of value. Vendor-specific IEs (type bit 15 set) are
// not used by this datapath's rule set and are skipped by treating the
// length field the same way - the high bit does not change the framing.
func parseIEs(data []byte) ([]ie, error) {
	var out []ie
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("pfcp: truncated IE header")
		}
		typ := binary.BigEndian.Uint16(data[0:2])
		length := binary.BigEndian.Uint16(data[2:4])
		data = data[4:]
		if int(length) > len(data) {
			return nil, fmt.Errorf("pfcp: IE %d length %d exceeds remaining %d", typ, length, len(data))
		}
		out = append(out, ie{Type: typ, Value: data[:length]})
		data = data[length:]
	}
	return out, nil
}

func findIE(ies []ie, typ uint16) (ie, bool) {
	for _, e := range ies {
		if e.Type == typ {
			return e, true
		}
	}
	return ie{}, false
}

func findAllIEs(ies []ie, typ uint16) []ie {
	var out []ie
	for _, e := range ies {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
