// Package sandbox executes user-supplied transform code in an isolated
// Starlark interpreter. Transforms are pure functions over JSON-shaped data:
// each script must define transform(input) returning an object. The
// interpreter has no filesystem, network, or clock access, and every run is
// bounded by a wall-clock deadline, a statement budget, and an output size
// cap.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/pkg/cache"
	"github.com/parrishsteve/splatcast/pkg/worker"
)

const entrypoint = "transform"

// cancelTimeout is the reason passed to Thread.Cancel when the caller's
// deadline fires; it distinguishes deadline kills from budget exhaustion.
const cancelTimeout = "deadline exceeded"

// Limits bound a single transform execution.
type Limits struct {
	// MaxSteps is the Starlark statement budget per run.
	MaxSteps uint64
	// MaxOutputBytes caps the JSON-serialized size of the returned object.
	MaxOutputBytes int
	// DefaultTimeout applies when the transformer does not set its own.
	DefaultTimeout time.Duration
	// MaxTimeout clamps per-transformer timeouts.
	MaxTimeout time.Duration
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:       100_000,
		MaxOutputBytes: 1 << 20,
		DefaultTimeout: 50 * time.Millisecond,
		MaxTimeout:     time.Second,
	}
}

// job carries one execution through the worker pool. The submitting
// goroutine waits on done; on deadline it cancels the interpreter thread
// and abandons the job without waiting for the worker.
type job struct {
	prog    *starlark.Program
	input   starlark.Value
	limits  Limits
	done    chan struct{}
	output  map[string]any
	err     error

	mu        sync.Mutex
	thread    *starlark.Thread
	abandoned bool
}

// Executor compiles and runs transform scripts on a shared worker pool.
// Compiled programs are cached by code hash so repeated publishes through
// the same transformer skip parsing.
type Executor struct {
	limits   Limits
	pool     *worker.Pool[*job]
	programs cache.Cache[*starlark.Program]
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLimits overrides the default execution limits.
func WithLimits(limits Limits) Option {
	return func(e *Executor) {
		e.limits = limits
	}
}

// New creates an Executor with the given pool sizing. programCacheSize
// bounds the compiled-program LRU; workers and queueSize size the shared
// pool for CPU-bound interpreter runs.
func New(workers, queueSize, programCacheSize int, opts ...Option) (*Executor, error) {
	e := &Executor{
		limits: DefaultLimits(),
		logger: slog.Default().With("component", "sandbox"),
	}
	for _, opt := range opts {
		opt(e)
	}

	programs, err := cache.NewLRU[*starlark.Program](programCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "Executor", "New", "program cache creation")
	}
	e.programs = programs
	e.pool = worker.NewPool(workers, queueSize, e.run)
	return e, nil
}

// Start launches the worker pool.
func (e *Executor) Start(ctx context.Context) error {
	return e.pool.Start(ctx)
}

// Stop drains the worker pool and releases the program cache.
func (e *Executor) Stop(timeout time.Duration) error {
	err := e.pool.Stop(timeout)
	if cerr := e.programs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// HashCode returns the hex SHA-256 of a transform script. Transformers
// store this hash; the executor uses it as the program cache key.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Execute runs code against input and returns the transformed object.
// timeout <= 0 falls back to the default; values above MaxTimeout are
// clamped. Failures map to the transform sentinel errors so callers can
// distinguish syntax, deadline, budget, runtime, bad-output, and oversized
// outcomes.
func (e *Executor) Execute(ctx context.Context, code string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	prog, err := e.compile(code)
	if err != nil {
		return nil, err
	}

	in, err := toStarlark(input)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidData, "Executor", "Execute", "input conversion")
	}

	if timeout <= 0 {
		timeout = e.limits.DefaultTimeout
	}
	if timeout > e.limits.MaxTimeout {
		timeout = e.limits.MaxTimeout
	}

	j := &job{
		prog:   prog,
		input:  in,
		limits: e.limits,
		done:   make(chan struct{}),
	}
	if err := e.pool.Submit(j); err != nil {
		return nil, errors.WrapTransient(err, "Executor", "Execute", "sandbox queue submit")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-j.done:
		return j.output, j.err
	case <-timer.C:
		j.abandon()
		return nil, errors.Wrap(errors.ErrTransformTimeout, "Executor", "Execute", "transform execution")
	case <-ctx.Done():
		j.abandon()
		return nil, errors.WrapTransient(ctx.Err(), "Executor", "Execute", "transform execution")
	}
}

// ValidateSyntax compiles code and dry-runs transform({}) to catch scripts
// that are structurally broken: parse errors, a missing or non-callable
// entrypoint, a non-object return, or a loop that burns the statement budget
// before touching the input. Runtime errors from the empty probe input are
// tolerated since real transforms index into their payload. Called at
// transformer create and update time.
func (e *Executor) ValidateSyntax(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.Wrap(errors.ErrTransformSyntax, "Executor", "ValidateSyntax", "empty script")
	}
	if _, err := e.compile(code); err != nil {
		return err
	}
	_, err := e.Execute(ctx, code, map[string]any{}, e.limits.MaxTimeout)
	if err != nil && (errors.Is(err, errors.ErrTransformSyntax) ||
		errors.Is(err, errors.ErrTransformBudget) ||
		errors.Is(err, errors.ErrTransformBadOutput)) {
		return err
	}
	return nil
}

// compile parses and compiles a script, caching the result by code hash.
// The compiled program must bind a callable named transform.
func (e *Executor) compile(code string) (*starlark.Program, error) {
	key := HashCode(code)
	if prog, found := e.programs.Get(key); found {
		return prog, nil
	}

	opts := &syntax.FileOptions{}
	_, prog, err := starlark.SourceProgramOptions(opts, "transform.star", code, func(string) bool { return false })
	if err != nil {
		e.logger.Debug("transform compile failed", "error", sanitize(err))
		return nil, errors.Wrap(errors.ErrTransformSyntax, "Executor", "compile", "script compilation")
	}

	if _, err := e.programs.Set(key, prog); err != nil {
		e.logger.Debug("program cache set failed", "error", err)
	}
	return prog, nil
}

// run executes one job on a pool worker. It publishes the interpreter
// thread so the submitter can cancel it, then initializes globals and calls
// transform(input).
func (e *Executor) run(ctx context.Context, j *job) error {
	defer close(j.done)

	thread := &starlark.Thread{Name: entrypoint}
	thread.SetMaxExecutionSteps(j.limits.MaxSteps)

	j.mu.Lock()
	if j.abandoned {
		j.mu.Unlock()
		j.err = errors.Wrap(errors.ErrTransformTimeout, "Executor", "run", "transform execution")
		return nil
	}
	j.thread = thread
	j.mu.Unlock()

	globals, err := j.prog.Init(thread, starlark.StringDict{})
	if err != nil {
		j.err = classify(err)
		return nil
	}

	fn, ok := globals[entrypoint]
	if !ok {
		j.err = errors.Wrap(errors.ErrTransformSyntax, "Executor", "run", "transform function lookup")
		return nil
	}
	if _, ok := fn.(starlark.Callable); !ok {
		j.err = errors.Wrap(errors.ErrTransformSyntax, "Executor", "run", "transform function lookup")
		return nil
	}

	result, err := starlark.Call(thread, fn, starlark.Tuple{j.input}, nil)
	if err != nil {
		j.err = classify(err)
		return nil
	}

	dict, ok := result.(*starlark.Dict)
	if !ok {
		j.err = errors.Wrap(errors.ErrTransformBadOutput, "Executor", "run", "transform result check")
		return nil
	}
	out, err := fromStarlark(dict)
	if err != nil {
		j.err = errors.Wrap(errors.ErrTransformBadOutput, "Executor", "run", "transform result conversion")
		return nil
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		j.err = errors.Wrap(errors.ErrTransformBadOutput, "Executor", "run", "transform result encoding")
		return nil
	}
	if len(encoded) > j.limits.MaxOutputBytes {
		j.err = errors.Wrap(errors.ErrTransformOversized, "Executor", "run", "transform result size check")
		return nil
	}

	j.output = out.(map[string]any)
	return nil
}

// abandon marks the job dead and cancels its interpreter thread if one is
// already running. A queued job that has not reached a worker yet is
// skipped when it does.
func (j *job) abandon() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.abandoned = true
	if j.thread != nil {
		j.thread.Cancel(cancelTimeout)
	}
}

// classify maps an interpreter error to the matching transform sentinel.
// Step-budget exhaustion and deadline cancellation both surface as thread
// cancellation; the cancel reason tells them apart.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "too many steps"):
		return errors.Wrap(errors.ErrTransformBudget, "Executor", "run", "transform execution")
	case strings.Contains(msg, cancelTimeout):
		return errors.Wrap(errors.ErrTransformTimeout, "Executor", "run", "transform execution")
	default:
		return errors.Wrap(errors.ErrTransformRuntime, "Executor", "run", "transform execution")
	}
}

// sanitize trims interpreter error text before it reaches logs or API
// responses.
func sanitize(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
