package main

import (
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/redhat-performance/rusty-comms/internal/bench"
	"github.com/redhat-performance/rusty-comms/internal/coordinator"
	"github.com/redhat-performance/rusty-comms/internal/result/automotive"
)

// flags holds every raw command-line value before it is validated and
// turned into one bench.TestConfig per selected mechanism.
type flags struct {
	mode string

	mechanisms []string

	messageSize int
	msgCount    int
	duration    time.Duration
	warmup      int
	concurrency int

	oneWay   bool
	noOneWay bool

	roundTrip   bool
	noRoundTrip bool

	percentiles []float64
	bufferSize  int

	ipcPath     string
	shmName     string
	host        string
	port        int
	pmqPriority int

	sendDelay           time.Duration
	includeFirstMessage bool

	serverAffinity string
	clientAffinity string

	outputFile         string
	streamingOutputJSON string
	streamingOutputCSV  string

	logFile   string
	verbosity int

	continueOnError bool
	deadlineClass   string
}

// register attaches every flag named in the external interface to cmd,
// binding each one into f.
func (f *flags) register(cmd *cobra.Command) {
	fs := cmd.Flags()

	fs.StringVar(&f.mode, "mode", "in-process", "in-process | host | client")
	fs.StringSliceVarP(&f.mechanisms, "mechanism", "m", []string{"uds"}, "uds, tcp, shm, pmq, or all (repeatable)")

	fs.IntVarP(&f.messageSize, "message-size", "s", 1024, "payload size in bytes")
	fs.IntVarP(&f.msgCount, "msg-count", "i", 0, "number of messages to send (mutually exclusive with --duration)")
	fs.DurationVarP(&f.duration, "duration", "d", 0, "wall-clock duration to run (mutually exclusive with --msg-count)")
	fs.IntVarP(&f.warmup, "warmup-iterations", "w", 1000, "warmup iterations before the canary and measured loop")
	fs.IntVarP(&f.concurrency, "concurrency", "c", 1, "worker count (forced to 1 for shm)")

	fs.BoolVar(&f.oneWay, "one-way", true, "run the one-way direction")
	fs.BoolVar(&f.noOneWay, "no-one-way", false, "skip the one-way direction")
	fs.BoolVar(&f.roundTrip, "round-trip", true, "run the round-trip direction")
	fs.BoolVar(&f.noRoundTrip, "no-round-trip", false, "skip the round-trip direction")

	fs.Float64SliceVar(&f.percentiles, "percentiles", bench.DefaultPercentiles, "latency percentiles to report")
	fs.IntVar(&f.bufferSize, "buffer-size", 4096, "shm ring capacity / pmq queue depth (divided by message size) / stream sink depth; socket buffers keep OS defaults")

	fs.StringVar(&f.ipcPath, "ipc-path", "", "uds socket path / pmq queue name")
	fs.StringVar(&f.shmName, "shm-name", "", "shared-memory segment base name")
	fs.StringVar(&f.host, "host", "127.0.0.1", "tcp host")
	fs.IntVar(&f.port, "port", 9000, "tcp port")
	fs.IntVar(&f.pmqPriority, "pmq-priority", 0, "pmq message priority")

	fs.DurationVar(&f.sendDelay, "send-delay", 0, "pause between sends")
	fs.BoolVar(&f.includeFirstMessage, "include-first-message", false, "keep the canary sample in the histogram")

	fs.StringVar(&f.serverAffinity, "server-affinity", "", "pin the passive (listening) side to this core")
	fs.StringVar(&f.clientAffinity, "client-affinity", "", "pin the active (dialing) side to this core")

	fs.StringVar(&f.outputFile, "output-file", "", "final JSON result path; omit for no JSON file")
	fs.StringVar(&f.streamingOutputJSON, "streaming-output-json", "", "path template for per-sample JSON streaming output")
	fs.StringVar(&f.streamingOutputCSV, "streaming-output-csv", "", "path template for per-sample CSV streaming output")

	fs.StringVar(&f.logFile, "log-file", "stderr", "log file path, or stderr")
	fs.CountVarP(&f.verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")

	fs.BoolVar(&f.continueOnError, "continue-on-error", false, "keep running remaining mechanisms after a failure")
	fs.StringVar(&f.deadlineClass, "deadline-class", "", "automotive deadline class to evaluate round-trip compliance against")
}

// resolvedMechanisms expands "all" and deduplicates, preserving bench's
// canonical ordering for "all" so a fixed run order is reproducible.
func (f *flags) resolvedMechanisms() ([]bench.Mechanism, error) {
	seen := map[bench.Mechanism]bool{}
	var out []bench.Mechanism
	for _, raw := range f.mechanisms {
		if raw == "all" {
			for _, m := range bench.AllMechanisms {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
			continue
		}
		m := bench.Mechanism(raw)
		valid := false
		for _, known := range bench.AllMechanisms {
			if m == known {
				valid = true
				break
			}
		}
		if !valid {
			return nil, errors.Newf("rusty-comms: unknown mechanism %q", raw)
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("rusty-comms: at least one --mechanism is required")
	}
	return out, nil
}

// oneWayEnabled resolves the --one-way/--no-one-way pair, --no-one-way
// winning whenever both are passed.
func (f *flags) oneWayEnabled() bool {
	if f.noOneWay {
		return false
	}
	return f.oneWay
}

func (f *flags) roundTripEnabled() bool {
	if f.noRoundTrip {
		return false
	}
	return f.roundTrip
}

// buildTestConfig turns the parsed flags into one mechanism's TestConfig,
// resolving the mechanism-specific address flag and validating the
// count/duration and deadline-class inputs.
func (f *flags) buildTestConfig(mech bench.Mechanism) (bench.TestConfig, error) {
	cfg := bench.NewTestConfig(mech)
	cfg.MessageSizeBytes = f.messageSize
	cfg.WarmupIterations = f.warmup
	cfg.Concurrency = f.concurrency
	cfg.OneWay = f.oneWayEnabled()
	cfg.RoundTrip = f.roundTripEnabled()
	cfg.Percentiles = f.percentiles
	cfg.BufferSize = f.bufferSize
	cfg.PMQPriority = f.pmqPriority
	cfg.IncludeFirstMessage = f.includeFirstMessage
	cfg.SendDelay = f.sendDelay
	cfg.ContinueOnError = f.continueOnError

	if f.msgCount > 0 && f.duration > 0 {
		return cfg, errors.New("rusty-comms: --msg-count and --duration are mutually exclusive")
	}
	if f.duration > 0 {
		cfg = cfg.WithDuration(f.duration)
	} else {
		count := f.msgCount
		if count <= 0 {
			count = 1000
		}
		cfg = cfg.WithCount(count)
	}

	switch mech {
	case bench.MechanismTCP:
		// --host ordinarily names just the host and pairs with --port, but a
		// spawned client receives a single already-combined "--host host:port"
		// from ChildArgs; accept either shape.
		if _, _, splitErr := net.SplitHostPort(f.host); splitErr == nil {
			cfg.TransportAddr = f.host
		} else {
			cfg.TransportAddr = net.JoinHostPort(f.host, strconv.Itoa(f.port))
		}
	case bench.MechanismSHM:
		cfg.TransportAddr = f.shmName
	default: // uds, pmq
		cfg.TransportAddr = f.ipcPath
	}
	if cfg.TransportAddr == "" {
		return cfg, errors.Newf("rusty-comms: %s requires its address flag", mech)
	}

	if core, has, err := coordinator.ParseAffinityFlag(f.serverAffinity); err != nil {
		return cfg, err
	} else {
		cfg.ServerAffinity, cfg.HasServerAffinity = core, has
	}
	if core, has, err := coordinator.ParseAffinityFlag(f.clientAffinity); err != nil {
		return cfg, err
	} else {
		cfg.ClientAffinity, cfg.HasClientAffinity = core, has
	}

	if f.deadlineClass != "" {
		class, err := automotive.ParseClass(f.deadlineClass)
		if err != nil {
			return cfg, err
		}
		cfg.DeadlineClass = &class
	}

	return cfg, nil
}
