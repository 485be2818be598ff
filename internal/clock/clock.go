// Package clock gives every timestamp captured on the wire the same clock
// domain: the OS monotonic clock, which (unlike Go's time.Now, whose
// monotonic reading carries a process-private offset) reads the same
// counter in every process on the host, so a send timestamp captured in one
// process and a receive timestamp captured in another subtract cleanly.
package clock
