// Package pipeline composes every per-packet datapath stage — parsing,
// PDR/FAR/QER/URR dispatch, SDF classification, rate limiting, NAT,
// GTP-U encapsulation, and FIB-assisted routing — into the two
// entry points the host runtime drives: Uplink for frames arriving on
// N3, Downlink for frames arriving on N6. Grounded on the teacher's
// dataplane/simulated.Simulate loop, generalized from its single
// hard-coded UPFSession to the PDR/FAR/QER/URR rule tables.
package pipeline

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/config"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/metrics"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/nat"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/ratelimit"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/sdf"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

// Pipeline holds every collaborator a packet invocation needs. A single
// Pipeline is shared by all workers; nothing it holds is mutated except
// through the collaborators' own concurrency-safe methods.
type Pipeline struct {
	cfg       *config.Config
	tables    *rules.Tables
	nat       *nat.Table
	runtime   hostruntime.HostRuntime
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
}

// New constructs a Pipeline wired to its collaborators.
func New(cfg *config.Config, tables *rules.Tables, natTable *nat.Table, rt hostruntime.HostRuntime, tel *telemetry.Telemetry, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		tables:    tables,
		nat:       natTable,
		runtime:   rt,
		telemetry: tel,
		logger:    logger,
	}
}

// Process dispatches buf to Uplink or Downlink by its ingress interface,
// the single entry point the "on-a-stick" combined mode drives. shardIdx
// identifies the calling worker for sharded counter accounting; nowNS is
// the caller's monotonic clock reading for this packet.
func (p *Pipeline) Process(buf []byte, ingress packet.Interface, shardIdx int, nowNS int64) ([]byte, action.Result) {
	switch ingress {
	case packet.InterfaceN3:
		return p.Uplink(buf, shardIdx, nowNS)
	case packet.InterfaceN6:
		return p.Downlink(buf, shardIdx, nowNS)
	default:
		return buf, action.PassResult()
	}
}

// fiveTupleFromContext extracts the classifier key SDF matching and NAT
// connection tracking both need from ctx's currently-populated IPv4/IPv6
// and L4 views.
func fiveTupleFromContext(ctx *packet.Context) sdf.FiveTuple {
	var ft sdf.FiveTuple
	switch {
	case ctx.IP4 != nil:
		ft.SrcIP = ctx.IP4.SrcIP()
		ft.DstIP = ctx.IP4.DstIP()
		ft.Protocol = ctx.IP4.Protocol()
	case ctx.IP6 != nil:
		ft.SrcIP = ctx.IP6.SrcIP()
		ft.DstIP = ctx.IP6.DstIP()
		ft.Protocol = ctx.IP6.NextHeader()
	default:
		return sdf.FiveTuple{}
	}
	switch {
	case ctx.TCP != nil:
		ft.SrcPort = ctx.TCP.SrcPort()
		ft.DstPort = ctx.TCP.DstPort()
	case ctx.UDP != nil:
		ft.SrcPort = ctx.UDP.SrcPort()
		ft.DstPort = ctx.UDP.DstPort()
	}
	return ft
}

// checkQERUplink / checkQERDownlink apply a QER's gate and rate limit to a packet of byteLen
// bytes traveling in the given direction. A missing QER ID (0, or not
// installed) passes through unmetered — spec.md §4.5 treats the QER
// reference as optional.
func checkQERUplink(tables *rules.Tables, qerID uint32, byteLen int, nowNS int64) bool {
	qs, ok := tables.LookupQER(qerID)
	if !ok {
		return true
	}
	if !qs.Config.ULGateOpen {
		metrics.RecordQoSViolation(strconv.Itoa(int(qs.Config.QFI)))
		return false
	}
	if ok := ratelimit.Check(qs.ULWindow(), qs.Config.ULMaximumBitrate, byteLen, nowNS); !ok {
		metrics.RecordQoSViolation(strconv.Itoa(int(qs.Config.QFI)))
		return false
	}
	return true
}

func checkQERDownlink(tables *rules.Tables, qerID uint32, byteLen int, nowNS int64) bool {
	qs, ok := tables.LookupQER(qerID)
	if !ok {
		return true
	}
	if !qs.Config.DLGateOpen {
		metrics.RecordQoSViolation(strconv.Itoa(int(qs.Config.QFI)))
		return false
	}
	if ok := ratelimit.Check(qs.DLWindow(), qs.Config.DLMaximumBitrate, byteLen, nowNS); !ok {
		metrics.RecordQoSViolation(strconv.Itoa(int(qs.Config.QFI)))
		return false
	}
	return true
}

func accountURR(tables *rules.Tables, urrID uint32, shardIdx int, byteLen int) {
	if urrID == 0 {
		return
	}
	if counter, ok := tables.URR.Lookup(urrID); ok {
		counter.Add(shardIdx, uint64(byteLen))
	}
}

func accountFlow(tel *telemetry.Telemetry, ctx *packet.Context, ingressIfindex, egressIfindex int, nowNS int64, byteLen int) {
	if tel.Flows == nil || ctx.IP4 == nil {
		return
	}
	key := telemetry.FlowKey{
		Protocol:       ctx.IP4.Protocol(),
		IngressIfindex: int32(ingressIfindex),
		EgressIfindex:  int32(egressIfindex),
		TOS:            ctx.IP4.TOS(),
	}
	copy(key.SrcIP[12:16], ctx.IP4.SrcIP())
	copy(key.DstIP[12:16], ctx.IP4.DstIP())
	switch {
	case ctx.TCP != nil:
		key.SrcPort, key.DstPort = ctx.TCP.SrcPort(), ctx.TCP.DstPort()
	case ctx.UDP != nil:
		key.SrcPort, key.DstPort = ctx.UDP.SrcPort(), ctx.UDP.DstPort()
	}
	tel.Flows.Record(key, byteLen, nowNS)
}
