package apprunner

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// meter counts guest function calls. Crossing max cancels the run, which
// closes the module.
type meter struct {
	steps  atomic.Uint64
	over   atomic.Bool
	max    uint64
	cancel context.CancelFunc
}

func (m *meter) step() {
	if n := m.steps.Add(1); m.max > 0 && n > m.max && !m.over.Swap(true) {
		m.cancel()
	}
}

func (m *meter) used() uint64 {
	return m.steps.Load()
}

func (m *meter) exceeded() bool {
	return m.over.Load()
}

type meterKey struct{}

func withMeter(ctx context.Context, m *meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

func withStepCounter(ctx context.Context) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, stepCounter{})
}

type stepCounter struct{}

func (stepCounter) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return stepCounter{}
}

func (stepCounter) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if m, ok := ctx.Value(meterKey{}).(*meter); ok {
		m.step()
	}
}

func (stepCounter) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (stepCounter) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
