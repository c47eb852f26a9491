package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
)

// TranscriptForwarder hands transcript snapshots to a running program.
// Listen never blocks, so it can be registered as a reconciler change
// listener even though Update mutates the reconciler. Snapshots that arrive
// faster than they are delivered are coalesced, only the latest is sent.
type TranscriptForwarder struct {
	mu      sync.Mutex
	latest  conversation.Transcript
	pending bool
	notify  chan struct{}
}

func NewTranscriptForwarder() *TranscriptForwarder {
	return &TranscriptForwarder{
		notify: make(chan struct{}, 1),
	}
}

func (f *TranscriptForwarder) Listen(t conversation.Transcript) {
	f.mu.Lock()
	f.latest = t
	f.pending = true
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Run delivers snapshots to send until ctx is done.
func (f *TranscriptForwarder) Run(ctx context.Context, send func(tea.Msg)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.notify:
			f.mu.Lock()
			t, ok := f.latest, f.pending
			f.pending = false
			f.mu.Unlock()
			if ok {
				send(TranscriptMsg{Transcript: t})
			}
		}
	}
}
