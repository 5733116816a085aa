package rules

import "sync/atomic"

// Tables is the full set of read-mostly rule tables the datapath consults.
// Per spec §5, the control plane publishes whole replacement maps behind an
// atomic pointer; readers never take a lock. This is the narrow write
// interface spec §1 treats as an external collaborator — here, the PFCP
// server.
type Tables struct {
	pdrUplink     atomic.Pointer[map[uint32]PDR]     // key: TEID
	pdrDownlinkV4 atomic.Pointer[map[uint32]PDR]     // key: UE IPv4
	pdrDownlinkV6 atomic.Pointer[map[[16]byte]PDR]   // key: UE IPv6
	far           atomic.Pointer[map[uint32]FAR]     // key: FAR ID
	qer           atomic.Pointer[map[uint32]*QERState] // key: QER ID

	URR *URRTable
}

// NewTables constructs empty tables. shardCount sizes the per-URR counter
// shard arrays (typically runtime.GOMAXPROCS(0)).
func NewTables(shardCount int) *Tables {
	t := &Tables{URR: NewURRTable(shardCount)}
	emptyUp := make(map[uint32]PDR)
	emptyDown4 := make(map[uint32]PDR)
	emptyDown6 := make(map[[16]byte]PDR)
	emptyFAR := make(map[uint32]FAR)
	emptyQER := make(map[uint32]*QERState)
	t.pdrUplink.Store(&emptyUp)
	t.pdrDownlinkV4.Store(&emptyDown4)
	t.pdrDownlinkV6.Store(&emptyDown6)
	t.far.Store(&emptyFAR)
	t.qer.Store(&emptyQER)
	return t
}

func (t *Tables) LookupPDRUplink(teid uint32) (PDR, bool) {
	m := *t.pdrUplink.Load()
	p, ok := m[teid]
	return p, ok
}

func (t *Tables) LookupPDRDownlinkV4(ue uint32) (PDR, bool) {
	m := *t.pdrDownlinkV4.Load()
	p, ok := m[ue]
	return p, ok
}

func (t *Tables) LookupPDRDownlinkV6(ue [16]byte) (PDR, bool) {
	m := *t.pdrDownlinkV6.Load()
	p, ok := m[ue]
	return p, ok
}

func (t *Tables) LookupFAR(id uint32) (FAR, bool) {
	m := *t.far.Load()
	f, ok := m[id]
	return f, ok
}

func (t *Tables) LookupQER(id uint32) (*QERState, bool) {
	m := *t.qer.Load()
	q, ok := m[id]
	return q, ok
}

// InstallPDRUplink / InstallPDRDownlinkV4 / InstallPDRDownlinkV6 / InstallFAR
// copy-on-write a single key into the relevant table, the granularity a
// PFCP Session Establishment/Modification request naturally operates at.

func (t *Tables) InstallPDRUplink(teid uint32, pdr PDR) {
	for {
		oldPtr := t.pdrUplink.Load()
		old := *oldPtr
		next := make(map[uint32]PDR, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[teid] = pdr
		if t.pdrUplink.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) RemovePDRUplink(teid uint32) {
	for {
		oldPtr := t.pdrUplink.Load()
		old := *oldPtr
		if _, ok := old[teid]; !ok {
			return
		}
		next := make(map[uint32]PDR, len(old))
		for k, v := range old {
			if k != teid {
				next[k] = v
			}
		}
		if t.pdrUplink.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) InstallPDRDownlinkV4(ue uint32, pdr PDR) {
	for {
		oldPtr := t.pdrDownlinkV4.Load()
		old := *oldPtr
		next := make(map[uint32]PDR, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[ue] = pdr
		if t.pdrDownlinkV4.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) RemovePDRDownlinkV4(ue uint32) {
	for {
		oldPtr := t.pdrDownlinkV4.Load()
		old := *oldPtr
		if _, ok := old[ue]; !ok {
			return
		}
		next := make(map[uint32]PDR, len(old))
		for k, v := range old {
			if k != ue {
				next[k] = v
			}
		}
		if t.pdrDownlinkV4.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) InstallPDRDownlinkV6(ue [16]byte, pdr PDR) {
	for {
		oldPtr := t.pdrDownlinkV6.Load()
		old := *oldPtr
		next := make(map[[16]byte]PDR, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[ue] = pdr
		if t.pdrDownlinkV6.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) RemovePDRDownlinkV6(ue [16]byte) {
	for {
		oldPtr := t.pdrDownlinkV6.Load()
		old := *oldPtr
		if _, ok := old[ue]; !ok {
			return
		}
		next := make(map[[16]byte]PDR, len(old))
		for k, v := range old {
			if k != ue {
				next[k] = v
			}
		}
		if t.pdrDownlinkV6.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) InstallFAR(id uint32, far FAR) {
	for {
		oldPtr := t.far.Load()
		old := *oldPtr
		next := make(map[uint32]FAR, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[id] = far
		if t.far.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) RemoveFAR(id uint32) {
	for {
		oldPtr := t.far.Load()
		old := *oldPtr
		if _, ok := old[id]; !ok {
			return
		}
		next := make(map[uint32]FAR, len(old))
		for k, v := range old {
			if k != id {
				next[k] = v
			}
		}
		if t.far.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

// InstallQER installs or replaces a QER's immutable config. If a QERState
// already exists for id, its window timestamps are preserved rather than
// reset, so a PFCP modification does not perturb in-flight rate-limiter
// state.
func (t *Tables) InstallQER(id uint32, cfg QER, nowNS int64) {
	for {
		oldPtr := t.qer.Load()
		old := *oldPtr
		next := make(map[uint32]*QERState, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		if existing, ok := old[id]; ok {
			existing.Config = cfg
			next[id] = existing
		} else {
			next[id] = NewQERState(cfg, nowNS)
		}
		if t.qer.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (t *Tables) RemoveQER(id uint32) {
	for {
		oldPtr := t.qer.Load()
		old := *oldPtr
		if _, ok := old[id]; !ok {
			return
		}
		next := make(map[uint32]*QERState, len(old))
		for k, v := range old {
			if k != id {
				next[k] = v
			}
		}
		if t.qer.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}
