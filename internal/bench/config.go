// Package bench runs the warmup/canary/measurement loop against one
// mechanism at a time: one goroutine per worker, each owning its own
// transport connection, feeding samples into a per-worker histogram and
// the latency sink its direction's workers share.
package bench

import (
	"time"

	"github.com/google/uuid"

	"github.com/redhat-performance/rusty-comms/internal/result/automotive"
)

// Mechanism names one of the four IPC transports a test can target.
type Mechanism string

const (
	MechanismUDS Mechanism = "uds"
	MechanismTCP Mechanism = "tcp"
	MechanismSHM Mechanism = "shm"
	MechanismPMQ Mechanism = "pmq"
)

// AllMechanisms is the expansion of `-m all`, in the order results are
// reported when every mechanism is selected.
var AllMechanisms = []Mechanism{MechanismUDS, MechanismTCP, MechanismSHM, MechanismPMQ}

// Termination selects whether a test runs for a fixed message count or a
// fixed wall-clock duration; exactly one is set.
type Termination struct {
	Count    int
	Duration time.Duration
}

// ByCount reports whether this termination is count-bounded rather than
// duration-bounded.
func (t Termination) ByCount() bool { return t.Count > 0 }

// TestConfig is the immutable record describing one mechanism's test run,
// covering both the one-way and round-trip directions when both are
// enabled. It is embedded verbatim as `test_config` in the final result.
type TestConfig struct {
	Mechanism Mechanism `json:"mechanism"`

	MessageSizeBytes  int         `json:"message_size_bytes"`
	WarmupIterations  int         `json:"warmup_iterations"`
	Termination       Termination `json:"-"`
	MsgCount          int         `json:"msg_count,omitempty"`
	DurationSeconds   float64     `json:"duration_seconds,omitempty"`
	Concurrency       int         `json:"concurrency"`
	OneWay            bool        `json:"one_way"`
	RoundTrip         bool        `json:"round_trip"`
	SendDelay         time.Duration `json:"send_delay_ns"`
	Percentiles       []float64   `json:"percentiles"`
	BufferSize        int         `json:"buffer_size"`

	// TransportAddr is the mechanism-specific identifier: a filesystem
	// path for UDS, "host:port" for TCP, a segment name for shm, a queue
	// name for PMQ.
	TransportAddr string `json:"transport_addr"`

	// PMQPriority is the message priority PMQ sends use; ignored by every
	// other mechanism.
	PMQPriority int `json:"pmq_priority,omitempty"`

	IncludeFirstMessage bool `json:"include_first_message"`

	// DiscardInFlightOnDeadline controls what a duration-bounded round-trip
	// worker does with a request it has already sent when the deadline
	// arrives before the matching reply does: true abandons the wait and
	// stops without counting that request, false keeps waiting for the
	// reply (and counts it) even though the wall-clock budget is already
	// spent. Count-bounded tests never hit this since they stop on message
	// count, not the clock.
	DiscardInFlightOnDeadline bool `json:"-"`

	ServerAffinity int  `json:"-"`
	HasServerAffinity bool `json:"-"`
	ClientAffinity int  `json:"-"`
	HasClientAffinity bool `json:"-"`

	ContinueOnError bool `json:"-"`

	// DeadlineClass is nil unless --deadline-class was passed, in which
	// case the result aggregator additionally reports pass/fail against
	// this automotive severity class.
	DeadlineClass *automotive.Class `json:"deadline_class,omitempty"`

	// RunID correlates this test's streaming output files with the final
	// JSON's metadata.run_id when a templated path is used.
	RunID uuid.UUID `json:"-"`
}

// DefaultPercentiles matches the harness-wide default percentile set.
var DefaultPercentiles = []float64{50, 95, 99, 99.9}

// NewTestConfig returns a TestConfig with every harness default applied;
// callers fill in the fields the CLI actually overrides.
func NewTestConfig(mechanism Mechanism) TestConfig {
	return TestConfig{
		Mechanism:                 mechanism,
		MessageSizeBytes:          1024,
		WarmupIterations:          1000,
		Concurrency:               1,
		OneWay:                    true,
		RoundTrip:                 true,
		Percentiles:               DefaultPercentiles,
		BufferSize:                4096,
		DiscardInFlightOnDeadline: true,
	}
}

// WithCount returns cfg with a count-bounded termination, keeping the
// JSON-facing MsgCount field in sync with Termination.
func (cfg TestConfig) WithCount(n int) TestConfig {
	cfg.Termination = Termination{Count: n}
	cfg.MsgCount = n
	cfg.DurationSeconds = 0
	return cfg
}

// WithDuration returns cfg with a duration-bounded termination, keeping the
// JSON-facing DurationSeconds field in sync with Termination.
func (cfg TestConfig) WithDuration(d time.Duration) TestConfig {
	cfg.Termination = Termination{Duration: d}
	cfg.MsgCount = 0
	cfg.DurationSeconds = d.Seconds()
	return cfg
}
