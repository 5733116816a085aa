package pfcp

import (
	"encoding/binary"
	"fmt"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
)

// decodeFTEID decodes an F-TEID IE (type 21): 1 flags byte (V4/V6/CH/CHID
// bits), then TEID (4 bytes), then the present IPv4/IPv6 address(es). Only
// the CH (choose) flag and the IPv4 address matter to this datapath; the
// control plane either supplies a TEID or asks the UPF to allocate one.
type fteid struct {
	TEID    uint32
	IPv4    [4]byte
	HasIPv4 bool
	Choose  bool
}

func decodeFTEID(v []byte) (fteid, error) {
	if len(v) < 5 {
		return fteid{}, fmt.Errorf("pfcp: F-TEID too short")
	}
	flags := v[0]
	var f fteid
	f.Choose = flags&0x04 != 0 // CH
	if f.Choose {
		return f, nil
	}
	f.TEID = binary.BigEndian.Uint32(v[1:5])
	off := 5
	if flags&0x01 != 0 { // V4
		if len(v) < off+4 {
			return fteid{}, fmt.Errorf("pfcp: F-TEID IPv4 truncated")
		}
		copy(f.IPv4[:], v[off:off+4])
		f.HasIPv4 = true
	}
	return f, nil
}

// decodeUEIPAddress decodes a UE IP Address IE (type 93): 1 flags byte
// (IPv4/IPv6 present bits), then the present address(es).
func decodeUEIPAddress(v []byte) (ipv4 [4]byte, hasIPv4 bool, ipv6 [16]byte, hasIPv6 bool, err error) {
	if len(v) < 1 {
		return ipv4, false, ipv6, false, fmt.Errorf("pfcp: UE IP Address empty")
	}
	flags := v[0]
	off := 1
	if flags&0x02 != 0 { // IPv4
		if len(v) < off+4 {
			return ipv4, false, ipv6, false, fmt.Errorf("pfcp: UE IP Address IPv4 truncated")
		}
		copy(ipv4[:], v[off:off+4])
		hasIPv4 = true
		off += 4
	}
	if flags&0x01 != 0 { // IPv6
		if len(v) < off+16 {
			return ipv4, hasIPv4, ipv6, false, fmt.Errorf("pfcp: UE IP Address IPv6 truncated")
		}
		copy(ipv6[:], v[off:off+16])
		hasIPv6 = true
	}
	return ipv4, hasIPv4, ipv6, hasIPv6, nil
}

// decodeSDFFilter decodes this UPF's simplified SDF Filter IE encoding: a
// flags byte selecting which fields are present, followed by fixed-width
// fields in a stable order. This does not implement the full 3GPP
// IPFilterRule Flow-Description grammar (a text-based packet-filter DSL);
// the control plane is expected to pre-resolve filters to this compact
// binary form before installing them, the same way the datapath's rule
// tables already take resolved structs rather than wire IEs for PDR/FAR/QER.
const (
	sdfFlagSrcPrefix = 0x01
	sdfFlagDstPrefix = 0x02
	sdfFlagSrcPorts  = 0x04
	sdfFlagDstPorts  = 0x08
	sdfFlagProtocol  = 0x10
)

func decodeSDFFilter(v []byte) (rules.SDFFilter, error) {
	var f rules.SDFFilter
	if len(v) < 1 {
		return f, fmt.Errorf("pfcp: SDF Filter empty")
	}
	flags := v[0]
	off := 1

	readPrefix := func() (*rules.IPPrefix, error) {
		if len(v) < off+2 {
			return nil, fmt.Errorf("pfcp: SDF Filter prefix truncated")
		}
		addrLen := int(v[off])
		prefixLen := int(v[off+1])
		off += 2
		if len(v) < off+addrLen {
			return nil, fmt.Errorf("pfcp: SDF Filter prefix address truncated")
		}
		addr := make([]byte, addrLen)
		copy(addr, v[off:off+addrLen])
		off += addrLen
		return &rules.IPPrefix{Addr: addr, PrefixLen: prefixLen}, nil
	}

	var err error
	if flags&sdfFlagSrcPrefix != 0 {
		if f.SrcPrefix, err = readPrefix(); err != nil {
			return f, err
		}
	}
	if flags&sdfFlagDstPrefix != 0 {
		if f.DstPrefix, err = readPrefix(); err != nil {
			return f, err
		}
	}
	if flags&sdfFlagSrcPorts != 0 {
		if len(v) < off+4 {
			return f, fmt.Errorf("pfcp: SDF Filter src port range truncated")
		}
		f.SrcPorts = rules.PortRange{
			Low:  binary.BigEndian.Uint16(v[off : off+2]),
			High: binary.BigEndian.Uint16(v[off+2 : off+4]),
		}
		off += 4
	}
	if flags&sdfFlagDstPorts != 0 {
		if len(v) < off+4 {
			return f, fmt.Errorf("pfcp: SDF Filter dst port range truncated")
		}
		f.DstPorts = rules.PortRange{
			Low:  binary.BigEndian.Uint16(v[off : off+2]),
			High: binary.BigEndian.Uint16(v[off+2 : off+4]),
		}
		off += 4
	}
	if flags&sdfFlagProtocol != 0 {
		if len(v) < off+1 {
			return f, fmt.Errorf("pfcp: SDF Filter protocol truncated")
		}
		f.Protocol = v[off]
		f.HasProtocol = true
	}
	return f, nil
}

// createPDRDecoded is a Create PDR IE decoded into the datapath's rule
// struct plus the keying information (F-TEID for uplink, UE IP for
// downlink) installSession needs to pick the right table.
type createPDRDecoded struct {
	PDR     rules.PDR
	TEID    uint32
	HasTEID bool
	UEIPv4  [4]byte
	HasIPv4 bool
}

// decodeCreatePDR decodes a Create PDR grouped IE (type 1) into a
// rules.PDR. localSEID and imsi are supplied by the caller from the
// enclosing session context rather than re-decoded per PDR.
func decodeCreatePDR(group []byte, localSEID, imsi uint64) (createPDRDecoded, error) {
	ies, err := parseIEs(group)
	if err != nil {
		return createPDRDecoded{}, err
	}

	pdrIDIE, ok := findIE(ies, iePDRID)
	if !ok || len(pdrIDIE.Value) < 2 {
		return createPDRDecoded{}, fmt.Errorf("pfcp: Create PDR missing PDR ID")
	}
	pdrID := uint32(binary.BigEndian.Uint16(pdrIDIE.Value))

	pdr := rules.PDR{LocalSEID: localSEID, IMSI: imsi, PDRID: pdrID}

	if farIDIE, ok := findIE(ies, ieFARID); ok && len(farIDIE.Value) >= 4 {
		pdr.FARID = binary.BigEndian.Uint32(farIDIE.Value)
	}
	if qerIDIE, ok := findIE(ies, ieQERID); ok && len(qerIDIE.Value) >= 4 {
		pdr.QERID = binary.BigEndian.Uint32(qerIDIE.Value)
	}
	if urrIDIE, ok := findIE(ies, ieURRID); ok && len(urrIDIE.Value) >= 4 {
		pdr.URRID = binary.BigEndian.Uint32(urrIDIE.Value)
	}
	if ohrIE, ok := findIE(ies, ieOuterHeaderRemoval); ok && len(ohrIE.Value) >= 1 {
		pdr.OuterHeaderRemoval = rules.OuterHeaderRemoval(ohrIE.Value[0])
		pdr.HasOuterHeaderRemoval = true
	}

	var d createPDRDecoded
	pdiIE, ok := findIE(ies, iePDI)
	if !ok {
		return createPDRDecoded{}, fmt.Errorf("pfcp: Create PDR %d missing PDI", pdrID)
	}
	pdiIEs, err := parseIEs(pdiIE.Value)
	if err != nil {
		return createPDRDecoded{}, err
	}
	if ueIPIE, ok := findIE(pdiIEs, ieUEIPAddress); ok {
		v4, has4, _, _, err := decodeUEIPAddress(ueIPIE.Value)
		if err != nil {
			return createPDRDecoded{}, err
		}
		d.UEIPv4, d.HasIPv4 = v4, has4
	}
	if fteidIE, ok := findIE(pdiIEs, ieFTEID); ok {
		f, err := decodeFTEID(fteidIE.Value)
		if err == nil && !f.Choose {
			d.TEID, d.HasTEID = f.TEID, true
		}
	}
	for _, sdfIE := range findAllIEs(pdiIEs, ieSDFFilter) {
		filter, err := decodeSDFFilter(sdfIE.Value)
		if err != nil {
			return createPDRDecoded{}, err
		}
		pdr.SDFMode = rules.SDFDefault
		pdr.SDFRules = append(pdr.SDFRules, rules.SDFRule{
			Filter: filter,
			FARID:  pdr.FARID,
			QERID:  pdr.QERID,
			URRID:  pdr.URRID,
		})
	}

	d.PDR = pdr
	return d, nil
}

// decodeCreateFAR decodes a Create FAR grouped IE (type 3) into a
// rules.FAR plus its FAR ID.
func decodeCreateFAR(group []byte) (uint32, rules.FAR, error) {
	ies, err := parseIEs(group)
	if err != nil {
		return 0, rules.FAR{}, err
	}

	farIDIE, ok := findIE(ies, ieFARID)
	if !ok || len(farIDIE.Value) < 4 {
		return 0, rules.FAR{}, fmt.Errorf("pfcp: Create FAR missing FAR ID")
	}
	farID := binary.BigEndian.Uint32(farIDIE.Value)

	far := rules.FAR{}
	if aaIE, ok := findIE(ies, ieApplyAction); ok && len(aaIE.Value) >= 1 {
		far.ActionMask = rules.FARAction(aaIE.Value[0])
	}

	if fpIE, ok := findIE(ies, ieForwardingParams); ok {
		fpIEs, err := parseIEs(fpIE.Value)
		if err != nil {
			return 0, rules.FAR{}, err
		}
		if ohcIE, ok := findIE(fpIEs, ieOuterHeaderCreation); ok && len(ohcIE.Value) >= 9 {
			far.OuterHeaderCreation = rules.OuterHeaderCreation(ohcIE.Value[0])
			far.TEID = binary.BigEndian.Uint32(ohcIE.Value[1:5])
			copy(far.RemoteIP[:], ohcIE.Value[5:9])
		}
	}

	return farID, far, nil
}

// decodeCreateQER decodes a Create QER grouped IE (type 7) into a
// rules.QER plus its QER ID.
func decodeCreateQER(group []byte) (uint32, rules.QER, error) {
	ies, err := parseIEs(group)
	if err != nil {
		return 0, rules.QER{}, err
	}

	qerIDIE, ok := findIE(ies, ieQERID)
	if !ok || len(qerIDIE.Value) < 4 {
		return 0, rules.QER{}, fmt.Errorf("pfcp: Create QER missing QER ID")
	}
	qerID := binary.BigEndian.Uint32(qerIDIE.Value)

	qer := rules.QER{ULGateOpen: true, DLGateOpen: true}
	if qfiIE, ok := findIE(ies, ieQFI); ok && len(qfiIE.Value) >= 1 {
		qer.QFI = qfiIE.Value[0] & 0x3F
	}
	if gsIE, ok := findIE(ies, ieGateStatus); ok && len(gsIE.Value) >= 1 {
		ulGate := gsIE.Value[0] >> 2 & 0x03
		dlGate := gsIE.Value[0] & 0x03
		qer.ULGateOpen = ulGate == 0
		qer.DLGateOpen = dlGate == 0
	}
	if mbrIE, ok := findIE(ies, ieMBR); ok && len(mbrIE.Value) >= 10 {
		// MBR IE carries UL/DL rates in kbps, 5 bytes each (40-bit).
		qer.ULMaximumBitrate = decodeKbps40(mbrIE.Value[0:5]) * 1000
		qer.DLMaximumBitrate = decodeKbps40(mbrIE.Value[5:10]) * 1000
	}

	return qerID, qer, nil
}

func decodeKbps40(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// decodeCreateURR extracts the URR ID a Create URR grouped IE (type 6)
// installs; the datapath's URR model is a byte counter only (spec.md
// §4.11), so measurement method/reporting trigger IEs are accepted but not
// interpreted.
func decodeCreateURR(group []byte) (uint32, error) {
	ies, err := parseIEs(group)
	if err != nil {
		return 0, err
	}
	urrIDIE, ok := findIE(ies, ieURRID)
	if !ok || len(urrIDIE.Value) < 4 {
		return 0, fmt.Errorf("pfcp: Create URR missing URR ID")
	}
	return binary.BigEndian.Uint32(urrIDIE.Value), nil
}

// installSession applies every Create PDR/FAR/QER/URR grouped IE found in
// a Session Establishment or Modification request body to tbl. FAR/QER/URR
// are installed before PDRs so that by the time a PDR becomes visible to
// readers, everything it references already exists.
func installSession(tbl *rules.Tables, ies []ie, localSEID, imsi uint64, nowNS int64) error {
	for _, e := range findAllIEs(ies, ieCreateFAR) {
		id, far, err := decodeCreateFAR(e.Value)
		if err != nil {
			return err
		}
		tbl.InstallFAR(id, far)
	}
	for _, e := range findAllIEs(ies, ieCreateQER) {
		id, qer, err := decodeCreateQER(e.Value)
		if err != nil {
			return err
		}
		tbl.InstallQER(id, qer, nowNS)
	}
	for _, e := range findAllIEs(ies, ieCreateURR) {
		id, err := decodeCreateURR(e.Value)
		if err != nil {
			return err
		}
		tbl.URR.Install(id)
	}

	for _, e := range findAllIEs(ies, ieCreatePDR) {
		d, err := decodeCreatePDR(e.Value, localSEID, imsi)
		if err != nil {
			return err
		}
		if _, ok := tbl.LookupFAR(d.PDR.FARID); !ok {
			return fmt.Errorf("pfcp: PDR %d references unknown FAR %d", d.PDR.PDRID, d.PDR.FARID)
		}

		switch {
		case d.HasIPv4:
			tbl.InstallPDRDownlinkV4(binary.BigEndian.Uint32(d.UEIPv4[:]), d.PDR)
		case d.HasTEID:
			tbl.InstallPDRUplink(d.TEID, d.PDR)
		default:
			return fmt.Errorf("pfcp: PDR %d has neither UE IP nor local F-TEID", d.PDR.PDRID)
		}
	}
	return nil
}
