//go:build linux && (amd64 || arm64)

// Command shm-inspect opens an existing shared-memory ring pair by the name
// a running benchmark created it under and prints each ring's occupancy.
// It is a read-only operational aid: it never writes or reads a frame, only
// the atomically-published head/tail counters in the segment header, so it
// is safe to run against a live benchmark without disturbing it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/redhat-performance/rusty-comms/internal/transport/shm"
)

func main() {
	name := flag.String("name", "", "base segment name, as passed to --shm-name")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "shm-inspect: -name is required")
		os.Exit(2)
	}

	if err := inspect(*name); err != nil {
		fmt.Fprintf(os.Stderr, "shm-inspect: %v\n", err)
		os.Exit(1)
	}
}

func inspect(name string) error {
	c2s, err := shm.OpenSegment(name + "-c2s")
	if err != nil {
		return fmt.Errorf("open c2s segment: %w", err)
	}
	defer c2s.Close()

	s2c, err := shm.OpenSegment(name + "-s2c")
	if err != nil {
		return fmt.Errorf("open s2c segment: %w", err)
	}
	defer s2c.Close()

	fmt.Printf("segment %q\n", name)
	printRing("c2s (client -> server)", c2s)
	printRing("s2c (server -> client)", s2c)
	return nil
}

func printRing(label string, seg *shm.Segment) {
	ring := shm.NewRing(seg)
	state := ring.DebugState()
	fmt.Printf("  %s: %s producer=%v consumer=%v\n",
		label, state.String(), seg.H.ProducerPresent(), seg.H.ConsumerPresent())
}
