// Package supervisor owns the lifecycle of the external rtl_433 decoder
// process: start, drain stdout/stderr, classify failures, and apply the
// restart backoff policy. It emits raw JSON lines; it knows nothing
// about readings or devices.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abcdqfr/rtl433-ha/component"
	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/metric"
	"github.com/abcdqfr/rtl433-ha/pkg/clock"
	"github.com/abcdqfr/rtl433-ha/pkg/retry"
)

const defaultBinary = "rtl_433"

// ProcState is the decoder process run state.
type ProcState int32

const (
	// ProcStopped means no process is running and none is wanted.
	ProcStopped ProcState = iota
	// ProcStarting means the process was launched but not yet confirmed alive.
	ProcStarting
	// ProcRunning means the process is confirmed alive and emitting.
	ProcRunning
	// ProcStopping means graceful termination was requested.
	ProcStopping
	// ProcFailed means the supervisor gave up: a lifecycle fault or the
	// restart ceiling.
	ProcFailed
)

// String returns the state name.
func (s ProcState) String() string {
	switch s {
	case ProcStopped:
		return "stopped"
	case ProcStarting:
		return "starting"
	case ProcRunning:
		return "running"
	case ProcStopping:
		return "stopping"
	case ProcFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultRestartPolicy returns the restart backoff used when Deps.Restart
// is zero: 1s doubling to 60s, giving up after 10 consecutive failures.
func DefaultRestartPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Deps holds the runtime dependencies and tunables for a Supervisor.
type Deps struct {
	Command Command

	// Restart is the backoff policy applied after unexpected exits.
	Restart retry.Config

	// StartConfirm bounds the Starting state: the process counts as
	// Running on its first stdout line, or once this period elapses
	// with the process still alive. Default 5s.
	StartConfirm time.Duration

	// StopGrace is how long a terminated process gets between SIGTERM
	// and SIGKILL. Default 5s.
	StopGrace time.Duration

	// HealthyReset is the sustained running period after which the
	// consecutive-failure count resets. Default 60s.
	HealthyReset time.Duration

	// LineBuffer is the stdout line channel capacity. Default 4096.
	LineBuffer int

	Metrics *metric.Metrics
	Logger  *slog.Logger
	Clock   clock.Clock
}

// Supervisor manages one decoder process. It is single-use: after Stop
// or a terminal failure, build a new Supervisor to run again. The
// coordinator relies on this for reconfiguration.
type Supervisor struct {
	command      Command
	binary       string
	restart      *retry.Backoff
	startConfirm time.Duration
	stopGrace    time.Duration
	healthyReset time.Duration
	logger       *slog.Logger
	clk          clock.Clock
	metrics      *metric.Metrics

	lines    chan string
	failures chan Failure

	state    atomic.Int32
	running  atomic.Bool
	stopped  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	terminalErr error
	startTime   time.Time

	linesEmitted atomic.Int64
	failureCount atomic.Int64
	lastErr      atomic.Value // string
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Supervisor)(nil)

// New creates a Supervisor for the given command. Zero Deps fields get
// defaults; a nil Metrics disables instrumentation.
func New(deps Deps) *Supervisor {
	restart := deps.Restart
	if restart.InitialDelay == 0 && restart.MaxAttempts == 0 {
		restart = DefaultRestartPolicy()
	}
	if deps.StartConfirm <= 0 {
		deps.StartConfirm = 5 * time.Second
	}
	if deps.StopGrace <= 0 {
		deps.StopGrace = 5 * time.Second
	}
	if deps.HealthyReset <= 0 {
		deps.HealthyReset = 60 * time.Second
	}
	if deps.LineBuffer <= 0 {
		deps.LineBuffer = 4096
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "supervisor")
	}
	binary := deps.Command.Path
	if binary == "" {
		binary = defaultBinary
	}

	s := &Supervisor{
		command:      deps.Command,
		binary:       binary,
		restart:      retry.NewBackoff(restart),
		startConfirm: deps.StartConfirm,
		stopGrace:    deps.StopGrace,
		healthyReset: deps.HealthyReset,
		logger:       logger,
		clk:          deps.Clock,
		metrics:      deps.Metrics,
		lines:        make(chan string, deps.LineBuffer),
		failures:     make(chan Failure, 8),
	}
	s.lastErr.Store("")
	s.lastActivity.Store(time.Time{})
	return s
}

// Lines returns the decoder stdout line stream. The channel is closed
// when the supervisor stops for good.
func (s *Supervisor) Lines() <-chan string {
	return s.lines
}

// Failures returns a best-effort stream of process failures. Slow
// consumers miss events; the terminal error is always retained and
// available via TerminalErr.
func (s *Supervisor) Failures() <-chan Failure {
	return s.failures
}

// Done returns a channel closed when the run loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// State returns the current process state.
func (s *Supervisor) State() ProcState {
	return ProcState(s.state.Load())
}

// TerminalErr returns the error that permanently stopped the supervisor,
// or nil. Meaningful once Done is closed.
func (s *Supervisor) TerminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalErr
}

// Meta returns the component metadata.
func (s *Supervisor) Meta() component.Metadata {
	return component.Metadata{
		Name:        "process-supervisor",
		Type:        "supervisor",
		Description: fmt.Sprintf("decoder process supervisor for %q", s.command.String()),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (s *Supervisor) Health() component.HealthStatus {
	s.mu.Lock()
	startTime := s.startTime
	s.mu.Unlock()

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = s.clk.Now().Sub(startTime)
	}
	lastErr, _ := s.lastErr.Load().(string)

	return component.HealthStatus{
		Healthy:    s.State() == ProcRunning,
		LastCheck:  s.clk.Now(),
		ErrorCount: int(s.failureCount.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics.
func (s *Supervisor) DataFlow() component.FlowMetrics {
	s.mu.Lock()
	startTime := s.startTime
	s.mu.Unlock()

	lines := s.linesEmitted.Load()
	failures := s.failureCount.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if !startTime.IsZero() {
		if uptime := s.clk.Now().Sub(startTime).Seconds(); uptime > 0 {
			perSecond = float64(lines) / uptime
		}
	}
	if lines > 0 {
		errorRate = float64(failures) / float64(lines)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the command before any process starts.
func (s *Supervisor) Initialize() error {
	return s.command.Validate()
}

// Start launches the run loop. Idempotent while running; a stopped
// supervisor cannot be restarted.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}
	if s.stopped.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped,
			"supervisor", "Start", "restart of single-use supervisor")
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	s.mu.Lock()
	s.startTime = s.clk.Now()
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop requests graceful termination and waits up to timeout for the
// run loop to exit. Safe to call from any state, idempotent.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.stopped.Store(true)
	s.stopOnce.Do(func() { close(s.shutdown) })

	select {
	case <-s.done:
		return nil
	case <-s.clk.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"supervisor", "Stop", "graceful shutdown")
	}
}

// run is the restart loop. It exits on stop request, on a terminal
// lifecycle fault, or when the restart ceiling is reached.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.lines)
	defer s.running.Store(false)

	for {
		fail, stopRequested := s.runOnce(ctx)
		if stopRequested {
			s.setState(ProcStopped)
			return
		}

		s.reportFailure(fail)
		if fail.Kind.Terminal() {
			s.failTerminal(fail)
			return
		}

		if s.restart.Exhausted() {
			term := Failure{
				Kind: FailureMaxRetries,
				Err:  s.failureError(FailureMaxRetries, fmt.Errorf("%d consecutive failures", s.restart.Failures())),
				At:   s.clk.Now(),
			}
			s.reportFailure(term)
			s.failTerminal(term)
			return
		}

		delay := s.restart.Next()
		s.logger.Warn("decoder restart scheduled",
			"delay", delay,
			"consecutive_failures", s.restart.Failures())

		select {
		case <-s.clk.After(delay):
		case <-s.shutdown:
			s.setState(ProcStopped)
			return
		case <-ctx.Done():
			s.setState(ProcStopped)
			return
		}

		if s.metrics != nil {
			s.metrics.ProcessRestarts.Inc()
		}
	}
}

// runOnce runs a single decoder process to completion. It returns the
// failure that ended the run, or stopRequested=true when the exit was
// asked for.
func (s *Supervisor) runOnce(ctx context.Context) (Failure, bool) {
	s.setState(ProcStarting)

	cmd := exec.Command(s.binary, s.command.Args()...)
	// rtl_433 output parsing depends on the C locale.
	cmd.Env = append(os.Environ(), "LANG=C")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Failure{
			Kind: FailureUnexpectedExit,
			Err:  s.failureError(FailureUnexpectedExit, fmt.Errorf("stdout pipe: %w", err)),
			At:   s.clk.Now(),
		}, false
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Failure{
			Kind: FailureUnexpectedExit,
			Err:  s.failureError(FailureUnexpectedExit, fmt.Errorf("stderr pipe: %w", err)),
			At:   s.clk.Now(),
		}, false
	}

	if err := cmd.Start(); err != nil {
		kind := classifyStartError(err)
		return Failure{
			Kind: kind,
			Err:  s.failureError(kind, err),
			At:   s.clk.Now(),
		}, false
	}

	s.logger.Info("decoder started", "pid", cmd.Process.Pid, "command", s.command.String())

	firstLine := make(chan struct{})
	var firstOnce sync.Once
	var faultKind atomic.Value // FailureKind

	exited := make(chan struct{})
	var waitErr error

	// abort forces the process down after a stderr fault without
	// waiting for a stop request.
	abort := func() { go s.terminate(cmd, exited) }

	var g errgroup.Group
	g.Go(func() error {
		s.drainStdout(stdout, func() { firstOnce.Do(func() { close(firstLine) }) })
		return nil
	})
	g.Go(func() error {
		s.drainStderr(stderr, &faultKind, abort)
		return nil
	})

	go func() {
		// pipes must be fully drained before Wait
		_ = g.Wait()
		waitErr = cmd.Wait()
		close(exited)
	}()

	confirmed := false
	select {
	case <-firstLine:
		confirmed = true
	case <-s.clk.After(s.startConfirm):
		// no output yet but still alive: a quiet band is not a failure
		confirmed = true
	case <-exited:
	case <-s.shutdown:
		s.setState(ProcStopping)
		s.terminate(cmd, exited)
		return Failure{}, true
	case <-ctx.Done():
		s.setState(ProcStopping)
		s.terminate(cmd, exited)
		return Failure{}, true
	}

	if confirmed {
		select {
		case <-exited:
		default:
			s.setState(ProcRunning)
			runningSince := s.clk.Now()
			select {
			case <-exited:
				if s.clk.Now().Sub(runningSince) >= s.healthyReset {
					s.restart.Reset()
				}
			case <-s.shutdown:
				s.setState(ProcStopping)
				s.terminate(cmd, exited)
				return Failure{}, true
			case <-ctx.Done():
				s.setState(ProcStopping)
				s.terminate(cmd, exited)
				return Failure{}, true
			}
		}
	}

	<-exited

	kind := FailureUnexpectedExit
	if fk, ok := faultKind.Load().(FailureKind); ok && fk != "" {
		kind = fk
	}
	cause := waitErr
	if cause == nil {
		cause = fmt.Errorf("exit status 0")
	}
	return Failure{
		Kind: kind,
		Err:  s.failureError(kind, cause),
		At:   s.clk.Now(),
	}, false
}

// terminate requests graceful process exit, escalating to SIGKILL after
// the grace period. Returns once the process has exited.
func (s *Supervisor) terminate(cmd *exec.Cmd, exited <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
	case <-s.clk.After(s.stopGrace):
		s.logger.Warn("decoder ignored SIGTERM, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-exited
	}
}

// drainStdout delivers decoder JSON lines to the line channel. After a
// stop request lines are discarded but the pipe keeps draining so the
// process can exit.
func (s *Supervisor) drainStdout(r io.Reader, onFirst func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		onFirst()
		s.linesEmitted.Add(1)
		s.lastActivity.Store(s.clk.Now())

		select {
		case s.lines <- line:
		case <-s.shutdown:
		}
	}
}

// drainStderr logs decoder diagnostics and watches for fault patterns.
// A fault records its kind and forces the process down.
func (s *Supervisor) drainStderr(r io.Reader, faultKind *atomic.Value, abort func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		class, kind := classifyStderr(line)
		if s.metrics != nil {
			s.metrics.StderrLines.WithLabelValues(string(class)).Inc()
		}

		switch class {
		case stderrFault:
			s.logger.Error("decoder fault", "line", line, "kind", string(kind))
			if faultKind.Load() == nil {
				faultKind.Store(kind)
				abort()
			}
		case stderrBenign:
			s.logger.Debug("decoder hardware notice", "line", line)
		default:
			s.logger.Debug("decoder stderr", "line", line)
		}
	}
}

func (s *Supervisor) setState(st ProcState) {
	s.state.Store(int32(st))
	if s.metrics != nil {
		s.metrics.ProcessState.Set(float64(st))
	}
	s.logger.Debug("process state", "state", st.String())
}

func (s *Supervisor) reportFailure(fail Failure) {
	s.failureCount.Add(1)
	s.lastErr.Store(fail.Err.Error())
	if s.metrics != nil {
		s.metrics.ProcessFailures.WithLabelValues(string(fail.Kind)).Inc()
	}
	s.logger.Error("decoder process failed", "kind", string(fail.Kind), "error", fail.Err)

	select {
	case s.failures <- fail:
	default:
	}
}

func (s *Supervisor) failTerminal(fail Failure) {
	s.mu.Lock()
	s.terminalErr = fail.Err
	s.mu.Unlock()
	s.setState(ProcFailed)
	s.logger.Error("supervisor giving up", "kind", string(fail.Kind), "error", fail.Err)
}

// failureError builds the classified error for a failure kind, carrying
// the kind's sentinel for errors.Is checks.
func (s *Supervisor) failureError(kind FailureKind, cause error) error {
	base := kind.Sentinel()
	err := base
	if cause != nil {
		err = fmt.Errorf("%w: %v", base, cause)
	}
	switch kind {
	case FailureUnexpectedExit:
		return errors.WrapTransient(err, "supervisor", "run", "decoder process")
	case FailureNotInstalled, FailureMaxRetries:
		return errors.WrapFatal(err, "supervisor", "run", "decoder process")
	default:
		return errors.WrapInvalid(err, "supervisor", "run", "decoder process")
	}
}

// classifyStartError maps a process spawn error to a failure kind.
func classifyStartError(err error) FailureKind {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return FailureNotInstalled
	}
	if errors.Is(err, os.ErrPermission) {
		return FailurePermissionDenied
	}
	return FailureUnexpectedExit
}
