package hooks

import (
	"context"

	"github.com/arloliu/pullsub/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default when no custom hooks are provided, eliminating nil
// checks throughout the codebase.
type NopHooks struct{}

// NewNop creates hooks with no-op implementations.
func NewNop() types.Hooks {
	h := &NopHooks{}

	return types.Hooks{
		OnStateChanged:     h.OnStateChanged,
		OnDeadlineChanged:  h.OnDeadlineChanged,
		OnConnectionFailed: h.OnConnectionFailed,
	}
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnDeadlineChanged is a no-op implementation.
func (h *NopHooks) OnDeadlineChanged(_ context.Context, _, _ int) error {
	return nil
}

// OnConnectionFailed is a no-op implementation.
func (h *NopHooks) OnConnectionFailed(_ context.Context, _ types.FailureEvent) error {
	return nil
}
