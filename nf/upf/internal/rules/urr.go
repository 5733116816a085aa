package rules

import "sync/atomic"

// URRCounter is a Usage Reporting Rule's cumulative byte counter, sharded
// per worker (the nearest Go equivalent of the source's per-CPU map) and
// aggregated with atomic loads on read.
type URRCounter struct {
	shards []atomic.Uint64
}

func newURRCounter(shardCount int) *URRCounter {
	return &URRCounter{shards: make([]atomic.Uint64, shardCount)}
}

// Add accounts n bytes against the shard owned by worker shardIdx.
func (c *URRCounter) Add(shardIdx int, n uint64) {
	c.shards[shardIdx%len(c.shards)].Add(n)
}

// Total aggregates every shard's count.
func (c *URRCounter) Total() uint64 {
	var total uint64
	for i := range c.shards {
		total += c.shards[i].Load()
	}
	return total
}

// URRTable is the control-plane-managed set of installed URR IDs. Unlike
// PDR/FAR/QER, entries are never replaced wholesale mid-life — a URR's
// counter must survive control-plane updates to other rules — so the table
// exposes per-ID create/remove on top of the read path's atomic map swap.
type URRTable struct {
	shardCount int
	m          atomic.Pointer[map[uint32]*URRCounter]
}

// NewURRTable constructs an empty table sharding counters across
// shardCount workers.
func NewURRTable(shardCount int) *URRTable {
	t := &URRTable{shardCount: shardCount}
	empty := make(map[uint32]*URRCounter)
	t.m.Store(&empty)
	return t
}

// Lookup returns the counter for urrID, or false if it has not been
// installed.
func (t *URRTable) Lookup(urrID uint32) (*URRCounter, bool) {
	m := *t.m.Load()
	c, ok := m[urrID]
	return c, ok
}

// Install ensures urrID has a counter, creating one (starting at zero) if
// absent. Safe for concurrent control-plane callers; copy-on-write against
// the current map.
func (t *URRTable) Install(urrID uint32) *URRCounter {
	for {
		oldPtr := t.m.Load()
		old := *oldPtr
		if c, ok := old[urrID]; ok {
			return c
		}
		next := make(map[uint32]*URRCounter, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		c := newURRCounter(t.shardCount)
		next[urrID] = c
		if t.m.CompareAndSwap(oldPtr, &next) {
			return c
		}
	}
}

// Remove deletes urrID's counter.
func (t *URRTable) Remove(urrID uint32) {
	for {
		oldPtr := t.m.Load()
		old := *oldPtr
		if _, ok := old[urrID]; !ok {
			return
		}
		next := make(map[uint32]*URRCounter, len(old))
		for k, v := range old {
			if k != urrID {
				next[k] = v
			}
		}
		if t.m.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}
