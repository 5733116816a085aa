package pfcp

import (
	"encoding/binary"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
)

// removeSession applies every Remove PDR/FAR/QER/URR grouped IE found in a
// Session Modification request body. Remove PDR/FAR/QER/URR IEs (types
// 15/16/18/17) carry only the ID field, identical in shape to the ID IEs
// nested in their Create counterparts.
func removeSession(tbl *rules.Tables, ies []ie, sess *sessionState) {
	for _, e := range findAllIEs(ies, ieRemovePDR) {
		removeIEs, err := parseIEs(e.Value)
		if err != nil {
			continue
		}
		if pdrIDIE, ok := findIE(removeIEs, iePDRID); ok && len(pdrIDIE.Value) >= 2 {
			pdrID := uint32(binary.BigEndian.Uint16(pdrIDIE.Value))
			sess.removePDR(tbl, pdrID)
		}
	}
	for _, e := range findAllIEs(ies, ieRemoveFAR) {
		removeIEs, err := parseIEs(e.Value)
		if err != nil {
			continue
		}
		if idIE, ok := findIE(removeIEs, ieFARID); ok && len(idIE.Value) >= 4 {
			tbl.RemoveFAR(binary.BigEndian.Uint32(idIE.Value))
		}
	}
	for _, e := range findAllIEs(ies, ieRemoveQER) {
		removeIEs, err := parseIEs(e.Value)
		if err != nil {
			continue
		}
		if idIE, ok := findIE(removeIEs, ieQERID); ok && len(idIE.Value) >= 4 {
			tbl.RemoveQER(binary.BigEndian.Uint32(idIE.Value))
		}
	}
	for _, e := range findAllIEs(ies, ieRemoveURR) {
		removeIEs, err := parseIEs(e.Value)
		if err != nil {
			continue
		}
		if idIE, ok := findIE(removeIEs, ieURRID); ok && len(idIE.Value) >= 4 {
			tbl.URR.Remove(binary.BigEndian.Uint32(idIE.Value))
		}
	}
}

// sessionState tracks which table entries a PFCP session owns, so Session
// Deletion can tear them all down. The PFCP spec keys everything by
// SEID+ID; the datapath's rule tables don't carry SEID back-references, so
// the control-plane-facing half of this package keeps that index itself.
type sessionState struct {
	seid     uint64
	pdrKeys  map[uint32]pdrKey // PDR ID -> where it's installed
	farIDs   map[uint32]struct{}
	qerIDs   map[uint32]struct{}
	urrIDs   map[uint32]struct{}
}

type pdrKey struct {
	isDownlink bool
	teidOrIP   uint32
}

func newSessionState(seid uint64) *sessionState {
	return &sessionState{
		seid:    seid,
		pdrKeys: make(map[uint32]pdrKey),
		farIDs:  make(map[uint32]struct{}),
		qerIDs:  make(map[uint32]struct{}),
		urrIDs:  make(map[uint32]struct{}),
	}
}

func (s *sessionState) trackCreate(ies []ie) {
	for _, e := range findAllIEs(ies, ieCreatePDR) {
		d, err := decodeCreatePDR(e.Value, s.seid, 0)
		if err != nil {
			continue
		}
		switch {
		case d.HasIPv4:
			s.pdrKeys[d.PDR.PDRID] = pdrKey{isDownlink: true, teidOrIP: binary.BigEndian.Uint32(d.UEIPv4[:])}
		case d.HasTEID:
			s.pdrKeys[d.PDR.PDRID] = pdrKey{isDownlink: false, teidOrIP: d.TEID}
		}
	}
	for _, e := range findAllIEs(ies, ieCreateFAR) {
		if id, _, err := decodeCreateFAR(e.Value); err == nil {
			s.farIDs[id] = struct{}{}
		}
	}
	for _, e := range findAllIEs(ies, ieCreateQER) {
		if id, _, err := decodeCreateQER(e.Value); err == nil {
			s.qerIDs[id] = struct{}{}
		}
	}
	for _, e := range findAllIEs(ies, ieCreateURR) {
		if id, err := decodeCreateURR(e.Value); err == nil {
			s.urrIDs[id] = struct{}{}
		}
	}
}

func (s *sessionState) removePDR(tbl *rules.Tables, pdrID uint32) {
	key, ok := s.pdrKeys[pdrID]
	if !ok {
		return
	}
	if key.isDownlink {
		tbl.RemovePDRDownlinkV4(key.teidOrIP)
	} else {
		tbl.RemovePDRUplink(key.teidOrIP)
	}
	delete(s.pdrKeys, pdrID)
}

// teardown removes every table entry this session owns, for Session
// Deletion Request handling.
func (s *sessionState) teardown(tbl *rules.Tables) {
	for pdrID := range s.pdrKeys {
		s.removePDR(tbl, pdrID)
	}
	for id := range s.farIDs {
		tbl.RemoveFAR(id)
	}
	for id := range s.qerIDs {
		tbl.RemoveQER(id)
	}
	for id := range s.urrIDs {
		tbl.URR.Remove(id)
	}
}
