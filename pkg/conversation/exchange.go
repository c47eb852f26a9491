package conversation

import "sync"

// Exchange is the handle of one in-flight exchange. It is driven by a single
// consumer goroutine; End may be called from anywhere and more than once.
type Exchange struct {
	r            *Reconciler
	continuation bool
	started      bool
	endOnce      sync.Once
}

func (e *Exchange) ContinuationMode() bool {
	return e.continuation
}

func (e *Exchange) HasStarted() bool {
	return e.started
}

// Consume merges one fragment of this exchange. Empty fragments are ignored.
func (e *Exchange) Consume(fragment string) error {
	if fragment == "" {
		return nil
	}
	started, err := e.r.ConsumeFragment(fragment, e.continuation, e.started)
	if err != nil {
		return err
	}
	e.started = started
	return nil
}

// End finalizes the streaming turn and releases the exchange slot. Callers
// should defer it right after BeginExchange so it runs on every exit path.
func (e *Exchange) End() {
	e.endOnce.Do(func() {
		e.r.EndExchange()
		e.r.finishExchange()
	})
}
