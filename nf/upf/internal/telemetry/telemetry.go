// Package telemetry holds the per-CPU-shard counters spec.md §4.11
// describes: uplink/downlink byte-and-packet statistics, FIB lookup
// counters, the action histogram, and flow accounting. Every counter is
// sharded the same way rules.URRCounter shards URR byte totals — one
// atomic.Uint64 per worker, summed on read — since Go has no per-CPU map
// primitive to mirror directly.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
)

// ShardedCounter is a single named counter split across shardCount
// workers.
type ShardedCounter struct {
	shards []atomic.Uint64
}

func newShardedCounter(shardCount int) *ShardedCounter {
	return &ShardedCounter{shards: make([]atomic.Uint64, shardCount)}
}

func (c *ShardedCounter) AddShard(shardIdx int, n uint64) {
	c.shards[shardIdx%len(c.shards)].Add(n)
}

func (c *ShardedCounter) Inc() { c.AddShard(0, 1) }

func (c *ShardedCounter) Total() uint64 {
	var total uint64
	for i := range c.shards {
		total += c.shards[i].Load()
	}
	return total
}

// InterfaceStats mirrors spec.md's uplink_statistics/downlink_statistics
// per-CPU blocks: packet and byte totals plus dropped and aborted counts.
type InterfaceStats struct {
	RxPackets *ShardedCounter
	RxBytes   *ShardedCounter
	TxPackets *ShardedCounter
	TxBytes   *ShardedCounter
	Dropped   *ShardedCounter
	Aborted   *ShardedCounter
}

func newInterfaceStats(shardCount int) *InterfaceStats {
	return &InterfaceStats{
		RxPackets: newShardedCounter(shardCount),
		RxBytes:   newShardedCounter(shardCount),
		TxPackets: newShardedCounter(shardCount),
		TxBytes:   newShardedCounter(shardCount),
		Dropped:   newShardedCounter(shardCount),
		Aborted:   newShardedCounter(shardCount),
	}
}

// RouteCounters mirrors uplink_route_stats/downlink_route_stats: FIB
// lookup outcomes.
type RouteCounters struct {
	OK        *ShardedCounter
	ErrorDrop *ShardedCounter
	ErrorPass *ShardedCounter
}

func newRouteCounters(shardCount int) *RouteCounters {
	return &RouteCounters{
		OK:        newShardedCounter(shardCount),
		ErrorDrop: newShardedCounter(shardCount),
		ErrorPass: newShardedCounter(shardCount),
	}
}

// ActionHistogram tallies every verdict the pipeline returns, per
// spec.md §6's "each [action] is histogrammed per-CPU".
type ActionHistogram struct {
	pass     *ShardedCounter
	drop     *ShardedCounter
	tx       *ShardedCounter
	redirect *ShardedCounter
	aborted  *ShardedCounter
}

func newActionHistogram(shardCount int) *ActionHistogram {
	return &ActionHistogram{
		pass:     newShardedCounter(shardCount),
		drop:     newShardedCounter(shardCount),
		tx:       newShardedCounter(shardCount),
		redirect: newShardedCounter(shardCount),
		aborted:  newShardedCounter(shardCount),
	}
}

// Record tallies result against the shard owned by shardIdx.
func (h *ActionHistogram) Record(shardIdx int, result action.Result) {
	var c *ShardedCounter
	switch result.Action {
	case action.Pass:
		c = h.pass
	case action.Drop:
		c = h.drop
	case action.TX:
		c = h.tx
	case action.Redirect:
		c = h.redirect
	case action.Aborted:
		c = h.aborted
	default:
		return
	}
	c.AddShard(shardIdx, 1)
}

// Snapshot returns the aggregated totals for every action, keyed by name.
func (h *ActionHistogram) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"pass":     h.pass.Total(),
		"drop":     h.drop.Total(),
		"tx":       h.tx.Total(),
		"redirect": h.redirect.Total(),
		"aborted":  h.aborted.Total(),
	}
}

// FlowKey identifies one tracked flow for accounting purposes: 5-tuple
// plus ingress/egress interface and ToS, per spec.md §4.11.
type FlowKey struct {
	SrcIP          [16]byte
	DstIP          [16]byte
	SrcPort        uint16
	DstPort        uint16
	Protocol       uint8
	IngressIfindex int32
	EgressIfindex  int32
	TOS            uint8
}

// FlowRecord is the mutable accounting state kept per flow: first/last-seen
// timestamps and cumulative totals.
type FlowRecord struct {
	FirstSeenNS atomic.Int64
	LastSeenNS  atomic.Int64
	Bytes       atomic.Uint64
	Packets     atomic.Uint64
}

// FlowTable is an LRU-evicted flow-accounting table, enabled only when
// flow accounting ("flowact") is on.
type FlowTable struct {
	mu      sync.Mutex
	entries map[FlowKey]*FlowRecord
	maxSize int
}

// NewFlowTable constructs a flow table bounded at maxSize entries.
func NewFlowTable(maxSize int) *FlowTable {
	return &FlowTable{entries: make(map[FlowKey]*FlowRecord), maxSize: maxSize}
}

// Record accounts byteLen bytes against key, creating the entry if absent.
// When the table is at capacity and key is new, the least-recently-seen
// entry is evicted first, mirroring the kernel's BPF_MAP_TYPE_LRU_HASH.
func (t *FlowTable) Record(key FlowKey, byteLen int, nowNS int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.entries[key]; ok {
		rec.LastSeenNS.Store(nowNS)
		rec.Bytes.Add(uint64(byteLen))
		rec.Packets.Add(1)
		return
	}

	if len(t.entries) >= t.maxSize {
		t.evictOldestLocked()
	}

	rec := &FlowRecord{}
	rec.FirstSeenNS.Store(nowNS)
	rec.LastSeenNS.Store(nowNS)
	rec.Bytes.Store(uint64(byteLen))
	rec.Packets.Store(1)
	t.entries[key] = rec
}

func (t *FlowTable) evictOldestLocked() {
	var oldestKey FlowKey
	var oldestTS int64 = -1
	for k, rec := range t.entries {
		ts := rec.LastSeenNS.Load()
		if oldestTS == -1 || ts < oldestTS {
			oldestTS = ts
			oldestKey = k
		}
	}
	if oldestTS != -1 {
		delete(t.entries, oldestKey)
	}
}

// Telemetry bundles every counter the pipeline touches on the hot path.
type Telemetry struct {
	Uplink   *InterfaceStats
	Downlink *InterfaceStats

	UplinkRoute   *RouteCounters
	DownlinkRoute *RouteCounters

	Actions *ActionHistogram

	Flows *FlowTable // nil when flow accounting is disabled
}

// New constructs a Telemetry bundle. flowTableSize of 0 disables flow
// accounting.
func New(shardCount, flowTableSize int) *Telemetry {
	t := &Telemetry{
		Uplink:        newInterfaceStats(shardCount),
		Downlink:      newInterfaceStats(shardCount),
		UplinkRoute:   newRouteCounters(shardCount),
		DownlinkRoute: newRouteCounters(shardCount),
		Actions:       newActionHistogram(shardCount),
	}
	if flowTableSize > 0 {
		t.Flows = NewFlowTable(flowTableSize)
	}
	return t
}
