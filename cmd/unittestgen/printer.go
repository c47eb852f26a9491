package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
)

// transcriptPrinter prints transcript changes as a plain text stream. Only
// the text added since the last change is written; user turns are not
// echoed.
type transcriptPrinter struct {
	w io.Writer

	mu      sync.Mutex
	lastID  conversation.NodeID
	printed int
	open    bool
}

func newTranscriptPrinter(w io.Writer) *transcriptPrinter {
	return &transcriptPrinter{w: w}
}

func (p *transcriptPrinter) Update(t conversation.Transcript) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := t.Last()
	if !ok {
		return
	}

	if last.ID != p.lastID {
		p.lastID = last.ID
		p.printed = 0
		if last.Role == conversation.RoleUser {
			p.printed = len(last.Text)
			return
		}
		_, _ = fmt.Fprintf(p.w, "[%s]: ", last.Role)
		p.open = true
	}

	if len(last.Text) > p.printed {
		_, _ = io.WriteString(p.w, last.Text[p.printed:])
		p.printed = len(last.Text)
		p.open = true
	}

	if !last.IsStreaming && p.open {
		if !strings.HasSuffix(last.Text, "\n") {
			_, _ = io.WriteString(p.w, "\n")
		}
		p.open = false
	}
}

func (p *transcriptPrinter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastID = conversation.NodeID{}
	p.printed = 0
	p.open = false
	_, _ = io.WriteString(p.w, "--- conversation reset ---\n")
}
