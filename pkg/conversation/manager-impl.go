package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultAutosaveFormat = `{{.Year}}/{{.Month}}/{{.Day}}/{{.Time.Format "150405"}}-{{.ConversationID}}.json`

type ManagerImpl struct {
	mu              sync.RWMutex
	messages        Conversation
	index           map[NodeID]*Message
	ConversationID  uuid.UUID
	autosaveEnabled bool
	autosaveFormat  string
	autosaveDir     string
	startTime       time.Time
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithMessages(messages ...*Message) ManagerOption {
	return func(m *ManagerImpl) {
		m.appendLocked(messages...)
	}
}

func WithManagerConversationID(conversationID uuid.UUID) ManagerOption {
	return func(m *ManagerImpl) {
		m.ConversationID = conversationID
	}
}

// WithAutosave enables writing the history after every append when enabled
// is "yes". An empty dir defaults to ~/.unittestgen/history, an empty
// format to DefaultAutosaveFormat.
func WithAutosave(enabled string, format string, dir string) ManagerOption {
	return func(m *ManagerImpl) {
		m.autosaveEnabled = strings.ToLower(enabled) == "yes"

		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				homeDir = "."
			}
			m.autosaveDir = filepath.Join(homeDir, ".unittestgen", "history")
		} else {
			m.autosaveDir = dir
		}

		if format == "" {
			m.autosaveFormat = DefaultAutosaveFormat
		} else {
			m.autosaveFormat = format
		}
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		index:          map[NodeID]*Message{},
		ConversationID: uuid.New(),
		startTime:      time.Now(),
		autosaveFormat: DefaultAutosaveFormat,
	}
	for _, option := range options {
		option(ret)
	}

	return ret
}

func (c *ManagerImpl) GetConversation() Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make(Conversation, len(c.messages))
	copy(ret, c.messages)
	return ret
}

func (c *ManagerImpl) GetMessage(ID NodeID) (*Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.index[ID]
	return m, ok
}

func (c *ManagerImpl) AppendMessages(messages ...*Message) {
	c.mu.Lock()
	c.appendLocked(messages...)
	c.mu.Unlock()

	if c.autosaveEnabled {
		if err := c.autoSave(); err != nil {
			log.Warn().Err(err).Str("conversation_id", c.ConversationID.String()).Msg("autosave failed")
		}
	}
}

// appendLocked chains each message to the previous one through ParentID.
func (c *ManagerImpl) appendLocked(messages ...*Message) {
	for _, msg := range messages {
		if _, exists := c.index[msg.ID]; exists {
			log.Trace().Str("message_id", msg.ID.String()).Msg("skipping duplicate message")
			continue
		}
		if len(c.messages) > 0 {
			msg.ParentID = c.messages[len(c.messages)-1].ID
		} else {
			msg.ParentID = NullNode
		}
		c.messages = append(c.messages, msg)
		c.index[msg.ID] = msg
	}
	log.Trace().
		Int("appended", len(messages)).
		Int("total", len(c.messages)).
		Msg("appended messages to history")
}

func (c *ManagerImpl) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.index = map[NodeID]*Message{}
	c.ConversationID = uuid.New()
	c.startTime = time.Now()
}

// SaveToFile writes the history as indented JSON.
func (c *ManagerImpl) SaveToFile(s string) error {
	msgs := c.GetConversation()
	f, err := os.Create(s)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", s)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err = encoder.Encode(msgs); err != nil {
		return errors.Wrap(err, "could not encode conversation")
	}

	return nil
}

// LoadFromFile reads a conversation previously written by SaveToFile.
func LoadFromFile(filename string) (Conversation, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", filename)
	}
	var ret Conversation
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}
	return ret, nil
}

func (c *ManagerImpl) autoSavePath() (string, error) {
	c.mu.RLock()
	data := map[string]interface{}{
		"Year":           c.startTime.Format("2006"),
		"Month":          c.startTime.Format("01"),
		"Day":            c.startTime.Format("02"),
		"ConversationID": c.ConversationID.String(),
		"Time":           c.startTime,
	}
	format, dir := c.autosaveFormat, c.autosaveDir
	c.mu.RUnlock()

	tmpl, err := template.New("autosave").Funcs(sprig.TxtFuncMap()).Parse(format)
	if err != nil {
		return "", errors.Wrap(err, "invalid autosave format")
	}

	var filePathBuffer strings.Builder
	if err = tmpl.Execute(&filePathBuffer, data); err != nil {
		return "", errors.Wrap(err, "could not render autosave path")
	}

	return filepath.Join(dir, filePathBuffer.String()), nil
}

func (c *ManagerImpl) autoSave() error {
	fullPath, err := c.autoSavePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return errors.Wrap(err, "could not create autosave directory")
	}

	return c.SaveToFile(fullPath)
}
