package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
)

// timeoutMessage is the fixed error surface for executions that exceed their
// deadline.
const timeoutMessage = "execution timed out"

// ExecutionResult is the outcome of one script execution. Exactly one of
// completed normally, failed, or timed out holds; a timeout is reported as a
// failure carrying the fixed timeout message, never as a separate field.
// Output captured before a failure is always included.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	Output      string          `json:"output"`
	Error       string          `json:"error,omitempty"`
	Duration    time.Duration   `json:"-"`
	DurationMs  int64           `json:"duration_ms"`
	LineCount   int             `json:"line_count"`
	ByteCount   int             `json:"byte_count"`
	Truncated   bool            `json:"truncated"`
	TruncatedAt TruncationPoint `json:"truncated_at"`
}

// ScriptExecutor defines the interface for sandboxed script execution
type ScriptExecutor interface {
	Execute(ctx context.Context, source string, timeoutMs int) ExecutionResult
}

// Sandbox executes untrusted TypeScript/JavaScript against an allowlisted
// package set. One Sandbox serves a caller session across many executions:
// it owns the compiled-module cache and the preload task, while every
// Execute call gets a fresh interpreter and output tracker. Construction
// never fails; unresolvable configured packages surface per execution.
type Sandbox struct {
	logger  *zap.Logger
	allowed map[string]bool
	baseDir string

	defaultTimeout time.Duration
	minTimeout     time.Duration
	maxTimeout     time.Duration
	maxLines       int
	maxBytes       int

	mu       sync.RWMutex
	programs map[string]*goja.Program

	preloadOnce sync.Once
	preloadDone chan struct{}
}

// NewExecutor creates a sandbox executor from the application configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config) ScriptExecutor {
	return New(logger, cfg)
}

// New creates a Sandbox and starts its preload task in the background.
func New(logger *zap.Logger, cfg *config.Config) *Sandbox {
	s := &Sandbox{
		logger:         logger,
		allowed:        normalizeAllowlist(cfg.Sandbox.AllowedPackages),
		baseDir:        normalizeInstallDir(cfg.Sandbox.InstallDir),
		defaultTimeout: time.Duration(cfg.Sandbox.DefaultTimeoutMs) * time.Millisecond,
		minTimeout:     time.Duration(cfg.Sandbox.MinTimeoutMs) * time.Millisecond,
		maxTimeout:     time.Duration(cfg.Sandbox.MaxTimeoutMs) * time.Millisecond,
		maxLines:       cfg.Sandbox.MaxOutputLines,
		maxBytes:       cfg.Sandbox.MaxOutputBytes,
		programs:       make(map[string]*goja.Program),
		preloadDone:    make(chan struct{}),
	}

	logger.Info("sandbox created",
		zap.Strings("allowed_packages", cfg.Sandbox.AllowedPackages),
		zap.String("base_dir", s.baseDir),
	)

	s.startPreload()
	return s
}

// clampTimeout maps a caller-requested timeout into the configured window.
// Non-positive requests fall back to the default.
func (s *Sandbox) clampTimeout(timeoutMs int) time.Duration {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs <= 0 {
		timeout = s.defaultTimeout
	}
	if timeout < s.minTimeout {
		timeout = s.minTimeout
	}
	if timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}
	return timeout
}

// Execute runs one script end to end: await the preload task, transform the
// source, load it into a fresh isolated context, and race completion against
// the deadline. The script may keep running in the background after a
// timeout; the supervisor simply stops waiting.
func (s *Sandbox) Execute(ctx context.Context, source string, timeoutMs int) ExecutionResult {
	start := time.Now()
	timeout := s.clampTimeout(timeoutMs)
	tracker := NewOutputTracker(s.maxLines, s.maxBytes)
	executionID := uuid.NewString()

	s.logger.Debug("execution starting",
		zap.String("execution_id", executionID),
		zap.Duration("timeout", timeout),
	)

	fail := func(message string) ExecutionResult {
		result := s.result(tracker, start, false, message)
		s.logger.Info("execution failed",
			zap.String("execution_id", executionID),
			zap.String("error", message),
			zap.Duration("duration", result.Duration),
		)
		return result
	}

	if err := s.awaitPreload(ctx); err != nil {
		return fail(err.Error())
	}

	compiled, err := Transform(source)
	if err != nil {
		return fail(err.Error())
	}
	program, err := goja.Compile("script.js", compiled, false)
	if err != nil {
		return fail(err.Error())
	}

	ec := s.newContext(tracker)
	deadline := start.Add(timeout)
	watchdog := time.AfterFunc(timeout, func() {
		ec.vm.Interrupt(timeoutMessage)
		close(ec.interrupted)
	})
	defer watchdog.Stop()

	value, err := ec.vm.RunProgram(program)
	if err != nil {
		return fail(runErrorMessage(err))
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		// The transformed source is always an async call expression, so this
		// only happens for a tampered program; treat it as completion.
		return s.result(tracker, start, true, "")
	}

	if err := ec.pump(promise, deadline); err != nil {
		return fail(runErrorMessage(err))
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		result := s.result(tracker, start, true, "")
		s.logger.Info("execution completed",
			zap.String("execution_id", executionID),
			zap.Duration("duration", result.Duration),
			zap.Int("line_count", result.LineCount),
			zap.Bool("truncated", result.Truncated),
		)
		return result
	case goja.PromiseStateRejected:
		return fail(rejectionMessage(promise.Result()))
	default:
		// Nothing left can settle the promise. Honor the deadline before
		// reporting the timeout so the caller-observed duration matches it.
		<-ec.interrupted
		return fail(timeoutMessage)
	}
}

// pump drives the timer queue until the promise settles, the deadline
// passes, or no timers remain.
func (ec *executionContext) pump(promise *goja.Promise, deadline time.Time) error {
	for promise.State() == goja.PromiseStatePending {
		t := ec.timers.next()
		if t == nil {
			return nil
		}
		if wait := time.Until(t.due); wait > 0 {
			if time.Now().Add(wait).After(deadline) {
				<-ec.interrupted
				return errInterrupted
			}
			select {
			case <-time.After(wait):
			case <-ec.interrupted:
				return errInterrupted
			}
		}
		ec.timers.fire(t)
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			return err
		}
	}
	return nil
}

// errInterrupted marks a timer wait cut short by the deadline watchdog.
var errInterrupted = errors.New(timeoutMessage)

// runErrorMessage maps an interpreter error to the caller-facing message:
// interrupts become the fixed timeout message, script exceptions surface
// their thrown value, everything else its Go error text.
func runErrorMessage(err error) string {
	if errors.Is(err, errInterrupted) {
		return timeoutMessage
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return timeoutMessage
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return rejectionMessage(exception.Value())
	}
	return err.Error()
}

// rejectionMessage renders a rejection or thrown value.
func rejectionMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "execution rejected"
	}
	return v.String()
}

// result assembles the final record from the tracker state.
func (s *Sandbox) result(tracker *OutputTracker, start time.Time, success bool, message string) ExecutionResult {
	duration := time.Since(start)
	return ExecutionResult{
		Success:     success,
		Output:      tracker.Output(),
		Error:       message,
		Duration:    duration,
		DurationMs:  duration.Milliseconds(),
		LineCount:   tracker.LineCount(),
		ByteCount:   tracker.ByteCount(),
		Truncated:   tracker.Truncated(),
		TruncatedAt: tracker.TruncatedAt(),
	}
}
