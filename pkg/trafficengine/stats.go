package trafficengine

// Snapshot is the stats view handed to the UI.
type Snapshot struct {
	TotalPackets      uint64 `json:"total_packets"`
	SuspiciousPackets uint64 `json:"suspicious_packets"`
	VisibleItems      int    `json:"visible_items"`
	Population        int    `json:"population"`

	// Totals pushed by an upstream server, if any.
	ServerTotalPackets      uint64 `json:"server_total_packets"`
	ServerSuspiciousPackets uint64 `json:"server_suspicious_packets"`
}

// Stats holds the monotonic counters. Visible items are never cached; they are derived from
// the store when a snapshot is taken.
type Stats struct {
	total, suspicious             uint64
	serverTotal, serverSuspicious uint64
}

func (s *Stats) record(ev TrafficEvent) {
	s.total++
	if ev.Suspicious {
		s.suspicious++
	}
}

// seed raises the counters to at least the given values. Counters never go down.
func (s *Stats) seed(total, suspicious uint64) {
	s.total = max(s.total, total)
	s.suspicious = max(s.suspicious, suspicious)
}

func (s *Stats) applyServer(total, suspicious uint64) {
	s.serverTotal = max(s.serverTotal, total)
	s.serverSuspicious = max(s.serverSuspicious, suspicious)
}

func (s *Stats) snapshot(store *Store) Snapshot {
	return Snapshot{
		TotalPackets:            s.total,
		SuspiciousPackets:       s.suspicious,
		VisibleItems:            store.VisibleCount(),
		Population:              store.Len(),
		ServerTotalPackets:      s.serverTotal,
		ServerSuspiciousPackets: s.serverSuspicious,
	}
}
