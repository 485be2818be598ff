// Package automotive implements the optional deadline-compliance
// classification: given a severity class selected by --deadline-class, it
// judges whether a test's measured tail latency and error rate meet that
// class's budget. This is additive to the ordinary result shape — a test
// run without a class set never touches this package.
package automotive

import (
	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// AsilLevel is an ISO 26262 Automotive Safety Integrity Level, QM meaning
// "quality managed" — no safety integrity requirement.
type AsilLevel string

const (
	AsilQM AsilLevel = "QM"
	AsilA  AsilLevel = "A"
	AsilB  AsilLevel = "B"
	AsilC  AsilLevel = "C"
	AsilD  AsilLevel = "D"
)

// Class is one automotive application category, each with a maximum
// tolerable latency and error budget, ordered from the tightest (LifeCritical)
// to the loosest (Diagnostics).
type Class string

const (
	LifeCritical    Class = "life-critical"
	SafetyCritical  Class = "safety-critical"
	RealTimeControl Class = "real-time-control"
	ComfortSystems  Class = "comfort"
	Infotainment    Class = "infotainment"
	Diagnostics     Class = "diagnostics"
)

// Classes lists every recognized class in tightest-to-loosest order, used
// both for --deadline-class validation and for the suitability sweep.
var Classes = []Class{LifeCritical, SafetyCritical, RealTimeControl, ComfortSystems, Infotainment, Diagnostics}

// ParseClass validates a --deadline-class flag value.
func ParseClass(raw string) (Class, error) {
	for _, c := range Classes {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", transport.WithKind(errors.Newf("automotive: unrecognized deadline class %q", raw), transport.KindConfigInvalid)
}

// MaxLatencyUs is the class's maximum tolerable round-trip latency.
func (c Class) MaxLatencyUs() uint64 {
	switch c {
	case LifeCritical:
		return 100
	case SafetyCritical:
		return 1_000
	case RealTimeControl:
		return 10_000
	case ComfortSystems:
		return 100_000
	case Infotainment:
		return 1_000_000
	case Diagnostics:
		return 10_000_000
	default:
		return 0
	}
}

// MaxErrorRatePPM is the class's maximum tolerable error rate, in parts per
// million of operations.
func (c Class) MaxErrorRatePPM() uint64 {
	switch c {
	case LifeCritical:
		return 0
	case SafetyCritical:
		return 1
	case RealTimeControl:
		return 10
	case ComfortSystems:
		return 100
	case Infotainment:
		return 1_000
	case Diagnostics:
		return 10_000
	default:
		return 0
	}
}

// RequiredASIL is the ASIL level a class's requirements correspond to.
func (c Class) RequiredASIL() AsilLevel {
	switch c {
	case LifeCritical:
		return AsilD
	case SafetyCritical:
		return AsilC
	case RealTimeControl:
		return AsilB
	default:
		return AsilA
	}
}

// Compliance is the per-test deadline-compliance verdict embedded in a
// result when --deadline-class was set.
type Compliance struct {
	Class            Class     `json:"class"`
	RequiredAsil     AsilLevel `json:"required_asil"`
	MaxLatencyUs     uint64    `json:"max_latency_us"`
	MaxErrorRatePPM  uint64    `json:"max_error_rate_ppm"`
	ObservedP999Us   uint64    `json:"observed_p999_latency_us"`
	ObservedErrorPPM float64   `json:"observed_error_rate_ppm"`
	LatencyCompliant bool      `json:"latency_compliant"`
	ErrorRateCompliant bool    `json:"error_rate_compliant"`
	Compliant        bool      `json:"compliant"`
}

// Evaluate judges one test's measured P99.9 round-trip latency and sample
// error rate (dropped-or-failed fraction of totalOps) against class's
// budget, matching the original implementation's deadline-miss and
// error-budget checks but applied once, post-hoc, over the whole run
// rather than incrementally per sample.
func Evaluate(class Class, p999LatencyNs int64, totalOps, errorCount uint64) Compliance {
	p999Us := uint64(0)
	if p999LatencyNs > 0 {
		p999Us = uint64(p999LatencyNs) / 1000
	}

	var errorRatePPM float64
	if totalOps > 0 {
		errorRatePPM = (float64(errorCount) / float64(totalOps)) * 1_000_000.0
	}

	latencyOK := p999Us <= class.MaxLatencyUs()
	errorOK := errorRatePPM <= float64(class.MaxErrorRatePPM())

	return Compliance{
		Class:              class,
		RequiredAsil:       class.RequiredASIL(),
		MaxLatencyUs:       class.MaxLatencyUs(),
		MaxErrorRatePPM:    class.MaxErrorRatePPM(),
		ObservedP999Us:     p999Us,
		ObservedErrorPPM:   errorRatePPM,
		LatencyCompliant:   latencyOK,
		ErrorRateCompliant: errorOK,
		Compliant:          latencyOK && errorOK,
	}
}

// SuitableClasses returns every class whose budget the observed P99.9
// latency and error rate satisfy, tightest first — the set of automotive
// application categories this mechanism's measured performance would serve.
func SuitableClasses(p999LatencyNs int64, totalOps, errorCount uint64) []Class {
	var out []Class
	for _, c := range Classes {
		if Evaluate(c, p999LatencyNs, totalOps, errorCount).Compliant {
			out = append(out, c)
		}
	}
	return out
}
