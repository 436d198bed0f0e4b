package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

type routeCount struct {
	Route string
	Count int
}

// Stats tallies what a traffic server sends over its websocket feed.
type Stats struct {
	mu sync.Mutex

	Messages   map[string]int
	Protocols  map[string]int
	Routes     map[string]int
	Traffic    int
	Suspicious int
	Created    int
	Expired    int
	Evicted    int
	Alerts     int
	Server     trafficengine.Snapshot
	Config     wire.ConfigView
	StartTime  time.Time
}

func NewStats(start time.Time) *Stats {
	return &Stats{
		Messages:  make(map[string]int),
		Protocols: make(map[string]int),
		Routes:    make(map[string]int),
		StartTime: start,
	}
}

func (s *Stats) Record(msg []byte) error {
	env, err := wire.Decode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages[env.Type]++

	switch env.Type {
	case wire.TypeSnapshot:
		snap, err := wire.DecodeData[wire.Snapshot](env)
		if err != nil {
			return err
		}
		s.Server = snap.Stats
		s.Config = snap.Config
	case wire.TypeNewTraffic:
		ev, err := wire.DecodeData[trafficengine.TrafficEvent](env)
		if err != nil {
			return err
		}
		s.Traffic++
		if ev.Suspicious {
			s.Suspicious++
		}
		s.Protocols[ev.Protocol]++
		s.Routes[ev.Source.Name+" -> "+ev.Destination.Name]++
	case wire.TypeCreated:
		c, err := wire.DecodeData[wire.Created](env)
		if err != nil {
			return err
		}
		s.Created += len(c.Entities)
	case wire.TypeExpired, wire.TypeEvicted:
		ids, err := wire.DecodeData[wire.IDs](env)
		if err != nil {
			return err
		}
		if env.Type == wire.TypeExpired {
			s.Expired += len(ids.IDs)
		} else {
			s.Evicted += len(ids.IDs)
		}
	case wire.TypeAlert:
		s.Alerts++
	case wire.TypeStatsUpdate:
		st, err := wire.DecodeData[trafficengine.Snapshot](env)
		if err != nil {
			return err
		}
		s.Server = st
	case wire.TypeConfig:
		cfg, err := wire.DecodeData[wire.ConfigView](env)
		if err != nil {
			return err
		}
		s.Config = cfg
	}
	return nil
}

// TopRoutes returns the n busiest routes, ties broken by name.
func (s *Stats) TopRoutes(n int) []routeCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]routeCount, 0, len(s.Routes))
	for r, c := range s.Routes {
		out = append(out, routeCount{r, c})
	}
	slices.SortFunc(out, func(a, b routeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Route, b.Route)
	})
	return out[:min(n, len(out))]
}

func (s *Stats) Report(w io.Writer, now time.Time) {
	routes := s.TopRoutes(5)
	conclusions := s.Analyze(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := now.Sub(s.StartTime).Seconds()
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "Elapsed: %.0fs\n", elapsed)
	fmt.Fprintf(w, "Server totals:     %d packets, %d suspicious\n", s.Server.TotalPackets, s.Server.SuspiciousPackets)
	fmt.Fprintf(w, "Scene:             %d visible of %d (max %d, fade %.0fs)\n",
		s.Server.VisibleItems, s.Server.Population, s.Config.MaxVisibleItems, s.Config.FadeSeconds)
	fmt.Fprintf(w, "Observed traffic:  %d (%d suspicious)\n", s.Traffic, s.Suspicious)
	fmt.Fprintf(w, "Entities:          %d created, %d expired, %d evicted\n", s.Created, s.Expired, s.Evicted)
	fmt.Fprintf(w, "Alerts:            %d\n", s.Alerts)

	protocols := make([]string, 0, len(s.Protocols))
	for p := range s.Protocols {
		protocols = append(protocols, p)
	}
	slices.Sort(protocols)
	if len(protocols) > 0 {
		fmt.Fprintf(w, "Protocols:\n")
		for _, p := range protocols {
			fmt.Fprintf(w, "  %-6s %d\n", p, s.Protocols[p])
		}
	}
	if len(routes) > 0 {
		fmt.Fprintf(w, "Top %d routes:\n", len(routes))
		for _, r := range routes {
			fmt.Fprintf(w, "  %s: %d\n", r.Route, r.Count)
		}
	}

	fmt.Fprintf(w, "LIKELY CONCLUSIONS:\n")
	if len(conclusions) == 0 {
		fmt.Fprintf(w, "  - Traffic looks normal\n")
	}
	for _, c := range conclusions {
		fmt.Fprintf(w, "  - %s\n", c)
	}
}

// Analyze flags patterns worth a look.
func (s *Stats) Analyze(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []string
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return nil
	}

	if s.Traffic >= 20 && float64(s.Suspicious)/float64(s.Traffic) > 0.3 {
		results = append(results, "Elevated suspicious share (over 30% of observed traffic)")
	}
	if s.Evicted > 0 && s.Evicted > s.Expired {
		results = append(results, "Scene saturated (evictions outnumber expiries, consider raising max items)")
	}
	if s.Traffic == 0 && elapsed > 10 {
		results = append(results, "No traffic (sources may be disconnected)")
	}
	if rate := float64(s.Traffic) / elapsed; rate > 50 {
		results = append(results, fmt.Sprintf("Traffic burst (%.0f events/s)", rate))
	}
	return results
}
