// Package coordinator resolves the benchmark binary, spawns the counterpart
// process for cross-process tests, waits for its readiness handshake, pins
// CPU affinity, and tears the child down at the end of a run.
package coordinator

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/redhat-performance/rusty-comms/internal/logging"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// Role is which end of a cross-process test this process plays.
type Role string

const (
	// RoleInProcess runs both ends of a test in this process, still crossing
	// a task (goroutine) boundary for the transport.
	RoleInProcess Role = "in-process"
	// RoleHost is the driver/client side of a cross-process test: it spawns
	// the counterpart and measures against it.
	RoleHost Role = "host"
	// RoleClient is the passive server side that a host connects to.
	RoleClient Role = "client"
)

// ReadinessByte is the single byte a spawned child writes to its standard
// output once its transport is bound/created and ready to accept.
const ReadinessByte = 0x01

// BinaryPathEnvVar names the environment variable consulted when resolving
// the benchmark binary's path for process spawning, the second of three
// resolution steps after checking the current executable's own name.
const BinaryPathEnvVar = "RUSTY_COMMS_BINARY"

// expectedBinaryName is what this binary is named when installed normally;
// step (a) of binary resolution matches against this.
const expectedBinaryName = "rusty-comms"

// fallbackRelativePath is the conventional build-output-relative path tried
// as the last resolution step.
const fallbackRelativePath = "bin/rusty-comms"

// ResolveBinary implements the three-step binary resolution order: the
// current executable if its basename matches, then BinaryPathEnvVar, then a
// conventional relative path. It does not verify the fallback path exists
// beyond a stat, deferring the real failure to the spawn attempt.
func ResolveBinary() (string, error) {
	if exe, err := os.Executable(); err == nil {
		if filepath.Base(exe) == expectedBinaryName {
			return exe, nil
		}
	}

	if path := os.Getenv(BinaryPathEnvVar); path != "" {
		return path, nil
	}

	if _, err := os.Stat(fallbackRelativePath); err == nil {
		return fallbackRelativePath, nil
	}

	return "", transport.WithKind(
		errors.Newf("coordinator: could not resolve %s binary via executable name, %s, or %s", expectedBinaryName, BinaryPathEnvVar, fallbackRelativePath),
		transport.KindBinaryNotFound)
}

// Config controls how a child process is spawned and torn down.
type Config struct {
	// HandshakeTimeout bounds how long the parent waits for the readiness
	// byte before giving up.
	HandshakeTimeout time.Duration
	// GraceTimeout bounds how long teardown waits for the child to exit on
	// its own after its transport is closed, before it is killed.
	GraceTimeout time.Duration
}

// DefaultConfig returns the coordinator's default timeouts.
func DefaultConfig() Config {
	return Config{HandshakeTimeout: 5 * time.Second, GraceTimeout: 500 * time.Millisecond}
}

// Child is a spawned counterpart process whose readiness handshake has
// already completed.
type Child struct {
	cmd *exec.Cmd

	// Stdout is the child's standard output, positioned just past the
	// single readiness byte consumed during Spawn. A caller that expects
	// the child to report a result after Terminate (the passive side of a
	// one-way test, which alone measures recv-side latency) reads further
	// lines from this before calling Teardown, which waits on the child and
	// so closes the pipe.
	Stdout io.Reader

	mu      sync.Mutex
	waited  bool
	waitErr error
}

// Spawn resolves the binary, launches it with args appended, and blocks up
// to cfg.HandshakeTimeout for the single readiness byte on its standard
// output. The child's standard error is forwarded to this process's own
// logger for diagnostics.
func Spawn(ctx context.Context, cfg Config, args ...string) (*Child, error) {
	binPath, err := ResolveBinary()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, transport.WithKind(errors.Wrap(err, "coordinator: create stdout pipe"), transport.KindIoError)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, transport.WithKind(errors.Wrap(err, "coordinator: create stderr pipe"), transport.KindIoError)
	}

	if err := cmd.Start(); err != nil {
		return nil, transport.WithKind(errors.Wrapf(err, "coordinator: start %s", binPath), transport.KindIoError)
	}
	go forwardChildStderr(stderr)

	child := &Child{cmd: cmd, Stdout: stdout}
	if err := waitForReadinessByte(ctx, stdout, cfg.HandshakeTimeout); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return child, nil
}

func forwardChildStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logging.L().Info(scanner.Text(), zap.String("source", "child"))
	}
}

func waitForReadinessByte(ctx context.Context, r io.Reader, timeout time.Duration) error {
	type result struct {
		b   byte
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		var buf [1]byte
		_, err := io.ReadFull(r, buf[:])
		resCh <- result{buf[0], err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return transport.WithKind(errors.Newf("coordinator: handshake timed out after %s", timeout), transport.KindHandshakeTimeout)
	case res := <-resCh:
		if res.err != nil {
			return transport.WithKind(errors.Wrap(res.err, "coordinator: read readiness byte"), transport.KindHandshakeTimeout)
		}
		if res.b != ReadinessByte {
			return transport.WithKind(errors.Newf("coordinator: unexpected readiness byte %#x", res.b), transport.KindHandshakeTimeout)
		}
		return nil
	}
}

// SignalReady writes the single readiness byte to w, used by the child side
// once its transport is bound and ready to accept.
func SignalReady(w io.Writer) error {
	_, err := w.Write([]byte{ReadinessByte})
	return err
}

// Teardown waits up to cfg.GraceTimeout for the child to exit after its
// transport has already been closed by the caller, then kills it if it is
// still running.
func (c *Child) Teardown(cfg Config) error {
	c.mu.Lock()
	if c.waited {
		err := c.waitErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		c.mu.Lock()
		c.waited = true
		c.waitErr = err
		c.mu.Unlock()
		return err
	case <-time.After(cfg.GraceTimeout):
		_ = c.cmd.Process.Kill()
		err := <-done
		c.mu.Lock()
		c.waited = true
		c.waitErr = err
		c.mu.Unlock()
		logging.L().Warn("coordinator: child did not exit within grace window, killed")
		return err
	}
}

// PID returns the spawned child's process id.
func (c *Child) PID() int { return c.cmd.Process.Pid }

// ParseAffinityFlag parses a --server-affinity/--client-affinity flag value
// (empty string means "no pinning requested").
func ParseAffinityFlag(raw string) (int, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	core, err := strconv.Atoi(raw)
	if err != nil || core < 0 {
		return 0, false, transport.WithKind(errors.Newf("coordinator: invalid affinity core %q", raw), transport.KindConfigInvalid)
	}
	return core, true, nil
}

// affinityWarning is logged, never returned, matching the policy that a
// failure to pin affinity is a warning, not fatal.
func affinityWarning(core int, err error) {
	logging.L().Warn("coordinator: failed to pin CPU affinity", zap.Int("core", core), zap.Error(err))
}
