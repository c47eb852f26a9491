package conversation

import "time"

// Turn is one entry of the displayed transcript. Only assistant turns ever
// stream.
type Turn struct {
	ID          NodeID    `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	IsStreaming bool      `json:"isStreaming"`
	Time        time.Time `json:"time"`
}

func newTurn(role Role, text string, streaming bool) *Turn {
	return &Turn{
		ID:          NewNodeID(),
		Role:        role,
		Text:        text,
		IsStreaming: streaming,
		Time:        time.Now(),
	}
}

// Transcript is an immutable snapshot of the reconciler's turns.
type Transcript []Turn

func (t Transcript) Last() (Turn, bool) {
	if len(t) == 0 {
		return Turn{}, false
	}
	return t[len(t)-1], true
}

// StreamingIndex returns the index of the streaming turn, or -1.
func (t Transcript) StreamingIndex() int {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].IsStreaming {
			return i
		}
	}
	return -1
}

// IsStreaming reports whether any turn is still receiving fragments.
func (t Transcript) IsStreaming() bool {
	return t.StreamingIndex() >= 0
}
