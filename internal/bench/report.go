package bench

import (
	"encoding/json"
	"io"

	"github.com/redhat-performance/rusty-comms/internal/stats"
)

// ChildReport is what a "Client"-role (passive) child process writes to its
// standard output, as one JSON line, once its run completes: the one-way
// direction's histogram summary, since the passive side is the only side
// that ever measures one-way latency (it alone knows recv_ns). Round-trip
// results need no such report — the host side measures those directly.
type ChildReport struct {
	OneWayReceived  uint64          `json:"one_way_received"`
	OneWayBytes     uint64          `json:"one_way_bytes"`
	OneWayDropped   uint64          `json:"one_way_dropped"`
	OneWaySummary   *stats.Summary  `json:"one_way_summary,omitempty"`
	Err             string          `json:"err,omitempty"`
}

// WriteChildReport marshals r as a single JSON line to w (the child's
// standard output), following its earlier single-byte readiness signal.
func WriteChildReport(w io.Writer, r ChildReport) error {
	enc := json.NewEncoder(w)
	return enc.Encode(r)
}

// ReadChildReport parses the single JSON line a client-role child wrote to
// its standard output after handling Terminate.
func ReadChildReport(r io.Reader) (ChildReport, error) {
	var report ChildReport
	dec := json.NewDecoder(r)
	err := dec.Decode(&report)
	return report, err
}
