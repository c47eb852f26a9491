package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/advisor"
	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
)

var (
	ErrExchangeInProgress = conversation.ErrExchangeInProgress
	ErrSessionNoActive    = errors.New("session has no active exchange")
)

// Streamer produces the fragments of one exchange and owns the model side
// history.
type Streamer interface {
	ChatStream(ctx context.Context, input string) (<-chan helpers.Result[string], error)
	Reset()
}

// Session drives exchanges into a Reconciler. It owns the invariant that
// only one exchange is active at a time.
type Session struct {
	SessionID string

	reconciler *conversation.Reconciler
	streamer   Streamer
	onDone     []func(h *ExecutionHandle)

	mu     sync.Mutex
	active *ExecutionHandle
}

type Option func(*Session)

// WithDoneHook registers a function called after every exchange ended.
func WithDoneHook(f func(h *ExecutionHandle)) Option {
	return func(s *Session) {
		s.onDone = append(s.onDone, f)
	}
}

func NewSession(reconciler *conversation.Reconciler, streamer Streamer, options ...Option) *Session {
	s := &Session{
		SessionID:  uuid.NewString(),
		reconciler: reconciler,
		streamer:   streamer,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Session) Reconciler() *conversation.Reconciler {
	return s.reconciler
}

// IsRunning reports whether an exchange is in flight.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.IsRunning()
}

// Greet starts an exchange with empty input.
func (s *Session) Greet(ctx context.Context) (*ExecutionHandle, error) {
	return s.Submit(ctx, "")
}

// Submit appends input as a user turn (unless blank) and starts an exchange.
// It returns ErrExchangeInProgress while another exchange is in flight.
func (s *Session) Submit(ctx context.Context, input string) (*ExecutionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.IsRunning() {
		return nil, ErrExchangeInProgress
	}

	if s.reconciler.ExchangeActive() {
		return nil, ErrExchangeInProgress
	}

	exchangeID := helpers.NewCorrelationID()
	runCtx, cancel := context.WithCancel(helpers.ContextWithCorrelationID(ctx, exchangeID))

	// status notices travel to the consumer goroutine so that they are
	// merged in order with the fragments received before them
	statusCh := make(chan string)
	runCtx = advisor.WithStatusHandler(runCtx, func(text string) {
		select {
		case statusCh <- text:
		case <-runCtx.Done():
		}
	})

	// nothing is merged before the consumer starts, so the user turn is only
	// recorded once the stream exists
	fragments, err := s.streamer.ChatStream(runCtx, input)
	if err != nil {
		cancel()
		return nil, err
	}

	ex, err := s.beginExchange(input)
	if err != nil {
		cancel()
		go drain(fragments)
		return nil, err
	}

	h := newExecutionHandle(exchangeID, input, cancel)
	s.active = h

	log.Debug().Str("exchange_id", exchangeID).Bool("continuation", ex.ContinuationMode()).Msg("exchange started")
	go s.consume(runCtx, ex, h, fragments, statusCh)

	return h, nil
}

func (s *Session) beginExchange(input string) (*conversation.Exchange, error) {
	if strings.TrimSpace(input) != "" {
		if err := s.reconciler.AppendUserTurn(input); err != nil {
			return nil, err
		}
	}
	return s.reconciler.BeginExchange()
}

func drain(fragments <-chan helpers.Result[string]) {
	for range fragments {
	}
}

func (s *Session) consume(
	ctx context.Context,
	ex *conversation.Exchange,
	h *ExecutionHandle,
	fragments <-chan helpers.Result[string],
	statusCh <-chan string,
) {
	var err error
	defer func() {
		ex.End()
		s.mu.Lock()
		if s.active == h {
			s.active = nil
		}
		s.mu.Unlock()
		h.setResult(err)
		for _, f := range s.onDone {
			f(h)
		}
		log.Debug().Str("exchange_id", h.ExchangeID).Err(err).Bool("canceled", h.Canceled()).Msg("exchange ended")
	}()

	for {
		select {
		case r, ok := <-fragments:
			if !ok {
				return
			}
			v, rerr := r.Value()
			if rerr != nil {
				if ctx.Err() == nil {
					err = rerr
				}
				continue
			}
			if cerr := ex.Consume(v); cerr != nil {
				log.Error().Err(cerr).Msg("could not merge fragment")
				err = cerr
				h.Cancel()
				// let the producer observe the cancellation and close
				drain(fragments)
				return
			}

		case text := <-statusCh:
			s.reconciler.MergeStatus(text)
		}
	}
}

// Cancel cancels the in-flight exchange.
func (s *Session) Cancel() error {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil || !h.IsRunning() {
		return ErrSessionNoActive
	}
	h.Cancel()
	return nil
}

// Wait blocks until the in-flight exchange, if any, has ended.
func (s *Session) Wait() error {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Wait()
}

// Reset cancels and waits for the in-flight exchange, then clears the
// transcript and the model history. The reset listeners fire once.
func (s *Session) Reset() error {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
		_ = h.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.IsRunning() {
		return ErrExchangeInProgress
	}
	if err := s.reconciler.Reset(); err != nil {
		return err
	}
	s.streamer.Reset()
	return nil
}
