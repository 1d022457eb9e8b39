package commands

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/veilchat/veil-go/pkg/log"
)

// Stats aggregates a capture file.
type Stats struct {
	TotalEvents int
	Errors      int

	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	PacketsByType     map[string]int

	// Deliveries counts message status changes by new status.
	Deliveries map[string]int

	Connections map[string]*ConnectionStats

	TimeRange struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats summarizes one link.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Role      log.Role
	Peer      string
	Pings     int
	Verified  bool
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		PacketsByType:     make(map[string]int),
		Deliveries:        make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

// Collect reads the events matching sel and aggregates them.
func Collect(path string, sel Selection) (*Stats, error) {
	filter, err := sel.Filter()
	if err != nil {
		return nil, err
	}
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for event, err := range reader.Events() {
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	ts := event.Timestamp
	if s.TimeRange.Start.IsZero() || ts.Before(s.TimeRange.Start) {
		s.TimeRange.Start = ts
	}
	if ts.After(s.TimeRange.End) {
		s.TimeRange.End = ts
	}

	conn := s.Connections[event.ConnectionID]
	if conn == nil {
		conn = &ConnectionStats{FirstSeen: ts, LastSeen: ts, Role: event.LocalRole}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if ts.After(conn.LastSeen) {
		conn.LastSeen = ts
	}
	if conn.Peer == "" {
		conn.Peer = event.PeerAddress
	}

	switch {
	case event.Packet != nil:
		s.PacketsByType[event.Packet.Type]++
	case event.ControlMsg != nil:
		if event.ControlMsg.Type == log.ControlMsgPing {
			conn.Pings++
		}
	case event.StateChange != nil:
		switch event.StateChange.Entity {
		case log.StateEntityHandshake:
			conn.Verified = conn.Verified || event.StateChange.NewState == "VERIFIED"
		case log.StateEntityDelivery:
			s.Deliveries[event.StateChange.NewState]++
		}
	case event.Error != nil:
		s.Errors++
	}
}

// RunStats prints the statistics of the events matching sel.
func RunStats(path string, sel Selection, w io.Writer) error {
	stats, err := Collect(path, sel)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

// counts prints a titled block of non-zero counts in key order.
func counts[K cmp.Ordered](w io.Writer, title string, m map[K]int, name func(K) string) {
	keys := slices.Sorted(maps.Keys(m))
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		if m[k] > 0 {
			fmt.Fprintf(w, "  %-18s %d\n", name(k)+":", m[k])
		}
	}
	fmt.Fprintln(w)
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Veil Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		start, end := stats.TimeRange.Start, stats.TimeRange.End
		fmt.Fprintf(w, "Time Range: %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", end.Sub(start).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", stats.TotalEvents)

	counts(w, "Events by Layer", stats.EventsByLayer, log.Layer.String)
	counts(w, "Events by Category", stats.EventsByCategory, log.Category.String)
	counts(w, "Events by Direction", stats.EventsByDirection, log.Direction.String)
	counts(w, "Packets by Type", stats.PacketsByType, func(s string) string { return s })
	counts(w, "Deliveries", stats.Deliveries, func(s string) string { return s })

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	ids := slices.SortedFunc(maps.Keys(stats.Connections), func(a, b string) int {
		return stats.Connections[a].FirstSeen.Compare(stats.Connections[b].FirstSeen)
	})
	for _, id := range ids {
		c := stats.Connections[id]
		fmt.Fprintf(w, "\n  [%s] %s %d events, duration %s\n",
			shortenConnID(id), c.Role, c.Events, c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond))
		if c.Peer != "" {
			fmt.Fprintf(w, "           Peer: %s\n", c.Peer)
		}
		if c.Pings > 0 {
			fmt.Fprintf(w, "           Pings: %d\n", c.Pings)
		}
		if c.Verified {
			fmt.Fprintln(w, "           Verified")
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", stats.Errors)
	}
}
