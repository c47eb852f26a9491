package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrExecutionHandleNil = errors.New("execution handle is nil")

// ExecutionHandle represents one in-flight exchange. It is cancelable and
// waitable.
type ExecutionHandle struct {
	ExchangeID string
	Input      string

	done chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	err      error
}

func newExecutionHandle(exchangeID, input string, cancel context.CancelFunc) *ExecutionHandle {
	return &ExecutionHandle{
		ExchangeID: exchangeID,
		Input:      input,
		done:       make(chan struct{}),
		cancel:     cancel,
	}
}

func (h *ExecutionHandle) setResult(err error) {
	h.mu.Lock()
	h.err = err
	cancel := h.cancel
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancel aborts the exchange. It is safe to call multiple times.
func (h *ExecutionHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	if cancel != nil {
		h.canceled = true
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the exchange has ended. A cancelled exchange returns
// nil; a provider fault or a transcript invariant violation is returned.
func (h *ExecutionHandle) Wait() error {
	if h == nil {
		return ErrExecutionHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the exchange has ended.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// Canceled reports whether Cancel was called while the exchange ran.
func (h *ExecutionHandle) Canceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
