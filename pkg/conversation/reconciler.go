package conversation

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvariantViolation marks a caller bug, such as continuing a turn
	// that is not an assistant turn.
	ErrInvariantViolation = errors.New("transcript invariant violation")
	// ErrExchangeInProgress is returned when an operation requires that no
	// exchange is in flight.
	ErrExchangeInProgress = errors.New("an exchange is already in progress")
)

// ChangeListener receives a snapshot after every transcript mutation.
type ChangeListener func(Transcript)

// ResetListener is called exactly once per Reset.
type ResetListener func()

// Reconciler is the single mutation authority over the displayed transcript.
// The primary fragment stream and the tool status side channel both submit
// text through it, so they always agree on whether a streaming assistant
// turn exists.
//
// Listeners run outside the state lock but serialized, in mutation order.
// They may call Snapshot, they must not mutate the reconciler. A mutation
// made while another goroutine is notifying may return before its own
// notification is delivered; the notifying goroutine delivers it.
type Reconciler struct {
	mu             sync.Mutex
	turns          []*Turn
	exchangeActive bool
	// pending is appended under mu, in mutation order
	pending []notification

	// notifyMu serializes delivery. It is never acquired while mu is held.
	notifyMu sync.Mutex

	onChange []ChangeListener
	onReset  []ResetListener
}

type notification struct {
	reset    bool
	snapshot Transcript
}

type ReconcilerOption func(*Reconciler)

func WithChangeListener(l ChangeListener) ReconcilerOption {
	return func(r *Reconciler) {
		r.onChange = append(r.onChange, l)
	}
}

func WithResetListener(l ResetListener) ReconcilerOption {
	return func(r *Reconciler) {
		r.onReset = append(r.onReset, l)
	}
}

func NewReconciler(options ...ReconcilerOption) *Reconciler {
	ret := &Reconciler{}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (r *Reconciler) snapshotLocked() Transcript {
	ret := make(Transcript, len(r.turns))
	for i, t := range r.turns {
		ret[i] = *t
	}
	return ret
}

func (r *Reconciler) Snapshot() Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// ExchangeActive reports whether an exchange was begun and not yet ended.
func (r *Reconciler) ExchangeActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchangeActive
}

// unlockAndNotify must be called with r.mu held. It queues the snapshot for
// the change listeners, releases the state lock and delivers the queue.
func (r *Reconciler) unlockAndNotify(changed bool) {
	if changed && len(r.onChange) > 0 {
		r.pending = append(r.pending, notification{snapshot: r.snapshotLocked()})
	}
	r.mu.Unlock()
	r.deliver()
}

func (r *Reconciler) deliver() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		n := r.pending[0]
		r.pending[0] = notification{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if n.reset {
			for _, l := range r.onReset {
				l()
			}
		}
		for _, l := range r.onChange {
			l(n.snapshot)
		}
	}
}

func (r *Reconciler) lastLocked() *Turn {
	if len(r.turns) == 0 {
		return nil
	}
	return r.turns[len(r.turns)-1]
}

// endStreamingLocked clears the streaming flag on every turn. At most one
// turn (the last) can be streaming.
func (r *Reconciler) endStreamingLocked() bool {
	changed := false
	for _, t := range r.turns {
		if t.IsStreaming {
			t.IsStreaming = false
			changed = true
		}
	}
	return changed
}

func (r *Reconciler) appendEagerLocked(role Role, text string) {
	r.endStreamingLocked()
	r.turns = append(r.turns, newTurn(role, text, false))
}

// AppendUserTurn records submitted user input. User turns are created whole,
// before the provider is invoked.
func (r *Reconciler) AppendUserTurn(text string) error {
	r.mu.Lock()
	if r.exchangeActive {
		r.mu.Unlock()
		return ErrExchangeInProgress
	}
	r.appendEagerLocked(RoleUser, text)
	r.unlockAndNotify(true)
	return nil
}

func (r *Reconciler) AppendSystemTurn(text string) error {
	r.mu.Lock()
	if r.exchangeActive {
		r.mu.Unlock()
		return ErrExchangeInProgress
	}
	r.appendEagerLocked(RoleSystem, text)
	r.unlockAndNotify(true)
	return nil
}

// ContinuationMode reports whether the first fragment of an exchange started
// now would extend the last turn: the last turn exists and is an assistant
// turn.
func (r *Reconciler) ContinuationMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.continuationModeLocked()
}

func (r *Reconciler) continuationModeLocked() bool {
	last := r.lastLocked()
	return last != nil && last.Role == RoleAssistant
}

// BeginExchange starts an exchange and captures its continuation mode. Only
// one exchange may be in flight, a second call before End returns
// ErrExchangeInProgress.
func (r *Reconciler) BeginExchange() (*Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchangeActive {
		return nil, ErrExchangeInProgress
	}
	r.exchangeActive = true
	ret := &Exchange{
		r:            r,
		continuation: r.continuationModeLocked(),
	}
	log.Trace().Bool("continuation", ret.continuation).Int("turns", len(r.turns)).Msg("exchange begun")
	return ret, nil
}

// ConsumeFragment merges one fragment into the transcript and returns the
// new value of hasStarted.
//
// With continuationMode or hasStarted set, the fragment extends the last
// turn, which must be an assistant turn. Otherwise the fragment extends a
// streaming assistant turn opened by the side channel, or starts a new
// streaming assistant turn.
func (r *Reconciler) ConsumeFragment(fragment string, continuationMode bool, hasStarted bool) (bool, error) {
	r.mu.Lock()
	last := r.lastLocked()

	if continuationMode || hasStarted {
		if last == nil || last.Role != RoleAssistant {
			r.mu.Unlock()
			role := Role("none")
			if last != nil {
				role = last.Role
			}
			return hasStarted, errors.Wrapf(ErrInvariantViolation,
				"cannot continue turn: last turn role is %s, not %s", role, RoleAssistant)
		}
		last.Text += fragment
		last.IsStreaming = true
		r.unlockAndNotify(true)
		return true, nil
	}

	if last != nil && last.Role == RoleAssistant && last.IsStreaming {
		last.Text += fragment
	} else {
		r.endStreamingLocked()
		r.turns = append(r.turns, newTurn(RoleAssistant, fragment, true))
	}
	r.unlockAndNotify(true)
	return true, nil
}

// MergeStatus merges an out-of-band status notice with the same rule as
// model fragments: it extends the last turn when that is an assistant turn,
// else it opens a new assistant turn. Turns only stream while an exchange
// is in flight.
func (r *Reconciler) MergeStatus(text string) {
	r.mu.Lock()
	last := r.lastLocked()
	if last != nil && last.Role == RoleAssistant {
		last.Text += text
		if r.exchangeActive {
			last.IsStreaming = true
		}
	} else {
		r.endStreamingLocked()
		r.turns = append(r.turns, newTurn(RoleAssistant, text, r.exchangeActive))
	}
	r.unlockAndNotify(true)
}

// EndExchange clears the streaming flag of the last assistant turn. It is a
// no-op when nothing is streaming.
func (r *Reconciler) EndExchange() {
	r.mu.Lock()
	changed := false
	for i := len(r.turns) - 1; i >= 0; i-- {
		if r.turns[i].Role == RoleAssistant {
			if r.turns[i].IsStreaming {
				r.turns[i].IsStreaming = false
				changed = true
			}
			break
		}
	}
	r.unlockAndNotify(changed)
}

func (r *Reconciler) finishExchange() {
	r.mu.Lock()
	r.exchangeActive = false
	r.mu.Unlock()
}

// Reset clears all turns and notifies the reset listeners once. Any
// in-flight exchange must have been ended first.
func (r *Reconciler) Reset() error {
	r.mu.Lock()
	if r.exchangeActive {
		r.mu.Unlock()
		return ErrExchangeInProgress
	}
	r.turns = nil
	r.pending = append(r.pending, notification{reset: true, snapshot: Transcript{}})
	r.mu.Unlock()
	r.deliver()
	return nil
}
