package reply

import "sync/atomic"

// Stats counts outcomes since process start.
type Stats struct {
	received   atomic.Uint64
	noMatch    atomic.Uint64
	fallback   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

type StatsSnapshot struct {
	Received   uint64 `json:"received"`
	NoMatch    uint64 `json:"no_match"`
	Fallback   uint64 `json:"fallback"`
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:   s.received.Load(),
		NoMatch:    s.noMatch.Load(),
		Fallback:   s.fallback.Load(),
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
	}
}
