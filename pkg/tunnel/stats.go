package tunnel

import "sync/atomic"

// Stats counts tunnel traffic. All methods are safe for concurrent use.
type Stats struct {
	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
}

func (s *Stats) addTx(n int) {
	s.txPackets.Add(1)
	s.txBytes.Add(uint64(n))
}

func (s *Stats) addRx(n int) {
	s.rxPackets.Add(1)
	s.rxBytes.Add(uint64(n))
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TxPackets: s.txPackets.Load(),
		TxBytes:   s.txBytes.Load(),
		RxPackets: s.rxPackets.Load(),
		RxBytes:   s.rxBytes.Load(),
	}
}

// Snapshot is a point-in-time view of tunnel traffic counters.
type Snapshot struct {
	TxPackets uint64
	TxBytes   uint64
	RxPackets uint64
	RxBytes   uint64
}

// StatsProvider is implemented by tunnels that expose traffic counters.
// Callers discover it by type assertion, like http.Flusher.
type StatsProvider interface {
	Stats() Snapshot
}
