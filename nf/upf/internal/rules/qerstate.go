package rules

import "sync/atomic"

// QERState pairs a QER's immutable configuration with the two mutable
// sliding-window timestamps the rate limiter advances via CAS (§4.6). It is
// shared across every CPU enforcing the same QER, so the window fields are
// atomics rather than plain int64s.
type QERState struct {
	Config QER

	ulWindowStartNS atomic.Int64
	dlWindowStartNS atomic.Int64
}

// NewQERState constructs a QERState with both windows starting at nowNS.
func NewQERState(cfg QER, nowNS int64) *QERState {
	s := &QERState{Config: cfg}
	s.ulWindowStartNS.Store(nowNS)
	s.dlWindowStartNS.Store(nowNS)
	return s
}

// ULWindow / DLWindow expose the atomics the rate limiter CAS-loops on.
func (s *QERState) ULWindow() *atomic.Int64 { return &s.ulWindowStartNS }
func (s *QERState) DLWindow() *atomic.Int64 { return &s.dlWindowStartNS }
