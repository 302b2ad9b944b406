// Package apprunner executes app contracts as sandboxed WASI modules.
//
// A guest reads CBOR [app, tx, x, w] from stdin and signals success by
// returning from _start or exiting with code 0. A guest that writes to stdout
// must echo CBOR [app, tx, x].
package apprunner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/cborx"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/metrics"
	"github.com/RiemaLabs/charms-indexer/spell"
)

const (
	DefaultMaxSteps uint64 = 1_000_000_000
	// DefaultTimeout also bounds guests that loop without making calls,
	// which the step meter cannot see.
	DefaultTimeout = 5 * time.Second
)

var (
	ErrBudgetExceeded = errors.New("app exceeded its execution budget")
	ErrVKMismatch     = errors.New("app binary does not match the app verifying key")
	ErrContractFailed = errors.New("app contract is not satisfied")
)

// Budget bounds one guest run. A zero Timeout passed to Run means no
// wall-clock limit.
type Budget struct {
	MaxSteps uint64        `mapstructure:"maxSteps" json:"maxSteps"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

func DefaultBudget() Budget {
	return Budget{MaxSteps: DefaultMaxSteps, Timeout: DefaultTimeout}
}

// OrDefault fills the zero fields of b from DefaultBudget.
func (b Budget) OrDefault() Budget {
	if b.MaxSteps == 0 {
		b.MaxSteps = DefaultMaxSteps
	}
	if b.Timeout == 0 {
		b.Timeout = DefaultTimeout
	}
	return b
}

// VK is the verifying key of an app binary.
func VK(binary []byte) charms.B32 {
	return sha256.Sum256(binary)
}

type input struct {
	_   struct{} `cbor:",toarray"`
	App charms.App
	Tx  *charms.Transaction
	X   charms.Data
	W   charms.Data
}

type output struct {
	_   struct{} `cbor:",toarray"`
	App charms.App
	Tx  *charms.Transaction
	X   charms.Data
}

type Runner struct {
	runtime wazero.Runtime

	mu       sync.Mutex
	compiled map[charms.B32]wazero.CompiledModule
}

func New(ctx context.Context) (*Runner, error) {
	cfg := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("error during instantiating WASI: %w", err)
	}
	return &Runner{runtime: rt, compiled: make(map[charms.B32]wazero.CompiledModule)}, nil
}

func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

func (r *Runner) compile(ctx context.Context, vk charms.B32, binary []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.compiled[vk]; ok {
		return m, nil
	}
	m, err := r.runtime.CompileModule(withStepCounter(ctx), binary)
	if err != nil {
		return nil, fmt.Errorf("error during compiling app %s: %w", vk, err)
	}
	r.compiled[vk] = m
	return m, nil
}

// Run executes binary as the contract of app and returns the steps it used.
func (r *Runner) Run(ctx context.Context, binary []byte, app charms.App, tx *charms.Transaction, x, w charms.Data, budget Budget) (uint64, error) {
	vk := VK(binary)
	if vk != app.VK {
		return 0, fmt.Errorf("%w: %s has vk %s", ErrVKMismatch, app, vk)
	}
	module, err := r.compile(ctx, vk, binary)
	if err != nil {
		return 0, err
	}
	stdin, err := cborx.Marshal(input{App: app, Tx: tx, X: x, W: w})
	if err != nil {
		return 0, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if budget.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, budget.Timeout)
		defer cancel()
	}
	m := &meter{max: budget.MaxSteps, cancel: cancel}
	runCtx = withMeter(runCtx, m)

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderrLog{app: app})

	mod, err := r.runtime.InstantiateModule(runCtx, module, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	steps := m.used()
	metrics.AppSteps.WithLabelValues(string(app.Tag)).Observe(float64(steps))

	if err != nil {
		var exit *sys.ExitError
		switch {
		case m.exceeded():
			return steps, fmt.Errorf("%w: %s used more than %d steps", ErrBudgetExceeded, app, budget.MaxSteps)
		case ctx.Err() != nil:
			return steps, ctx.Err()
		case errors.As(err, &exit) && exit.ExitCode() == sys.ExitCodeDeadlineExceeded:
			return steps, fmt.Errorf("%w: %s ran longer than %s", ErrBudgetExceeded, app, budget.Timeout)
		case errors.As(err, &exit) && exit.ExitCode() == 0:
		case errors.As(err, &exit):
			return steps, fmt.Errorf("%w: %s exited with code %d", ErrContractFailed, app, exit.ExitCode())
		default:
			return steps, fmt.Errorf("%w: %s: %v", ErrContractFailed, app, err)
		}
	}

	if stdout.Len() > 0 {
		want, err := cborx.Marshal(output{App: app, Tx: tx, X: x})
		if err != nil {
			return steps, err
		}
		if !bytes.Equal(stdout.Bytes(), want) {
			return steps, fmt.Errorf("%w: %s wrote unexpected output", ErrContractFailed, app)
		}
	}
	return steps, nil
}

// RunAll checks every app of publicInputs against tx, in app order. Apps
// without a binary must be simple transfers. It returns the steps used per
// app; each app gets the full budget.
func (r *Runner) RunAll(ctx context.Context, binaries map[charms.B32][]byte, tx *charms.Transaction, publicInputs, privateInputs spell.AppInputs, budget Budget) ([]uint64, error) {
	apps := publicInputs.Apps()
	steps := make([]uint64, len(apps))
	for i, app := range apps {
		binary, ok := binaries[app.VK]
		if !ok {
			if !charms.IsSimpleTransfer(app, tx) {
				return steps, fmt.Errorf("%w: %s has no binary and is not a simple transfer", ErrContractFailed, app)
			}
			continue
		}
		n, err := r.Run(ctx, binary, app, tx, publicInputs[app], privateInputs[app], budget)
		steps[i] = n
		if err != nil {
			return steps, err
		}
		logs.Debugf("App %s satisfied in %d steps", app, n)
	}
	return steps, nil
}

type stderrLog struct {
	app charms.App
}

func (s *stderrLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		logs.Debugf("App %s: %s", s.app, line)
	}
	return len(p), nil
}
