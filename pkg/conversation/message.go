package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ContentType string

const (
	ContentTypeChatMessage ContentType = "chat-message"
	ContentTypeToolUse     ContentType = "tool-use"
	ContentTypeToolResult  ContentType = "tool-result"
)

// MessageContent is an interface for different types of node content.
type MessageContent interface {
	ContentType() ContentType
	String() string
	View() string
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

type ChatMessageContent struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func (c *ChatMessageContent) ContentType() ContentType {
	return ContentTypeChatMessage
}

func (c *ChatMessageContent) String() string {
	return c.Text
}

func (c *ChatMessageContent) View() string {
	text := c.Text
	// a leading fence needs its own line to render as markdown
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	return fmt.Sprintf("[%s]: %s", c.Role, strings.TrimRight(text, "\n"))
}

var _ MessageContent = (*ChatMessageContent)(nil)

// ToolUseContent records a tool call requested by the model.
type ToolUseContent struct {
	ToolID string          `json:"toolID"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	Type   string          `json:"type"`
}

func (t *ToolUseContent) ContentType() ContentType {
	return ContentTypeToolUse
}

func (t *ToolUseContent) String() string {
	return fmt.Sprintf("ToolUseContent{ToolID: %s, Name: %s, Input: %s}", t.ToolID, t.Name, t.Input)
}

func (t *ToolUseContent) View() string {
	return fmt.Sprintf("[tool call] %s(%s)", t.Name, t.Input)
}

var _ MessageContent = (*ToolUseContent)(nil)

// ToolResultContent records the output of a locally executed tool.
type ToolResultContent struct {
	ToolID string `json:"toolID"`
	Result string `json:"result"`
}

func (t *ToolResultContent) ContentType() ContentType {
	return ContentTypeToolResult
}

func (t *ToolResultContent) String() string {
	return fmt.Sprintf("ToolResultContent{ToolID: %s, Result: %s}", t.ToolID, t.Result)
}

func (t *ToolResultContent) View() string {
	return fmt.Sprintf("[tool result %s] %s", t.ToolID, t.Result)
}

var _ MessageContent = (*ToolResultContent)(nil)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

var NullNode = NodeID(uuid.Nil)

// Message is one entry of the LLM-facing chat history.
type Message struct {
	ParentID   NodeID    `json:"parentID"`
	ID         NodeID    `json:"id"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`

	Content  MessageContent         `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(message *Message) {
		message.Metadata = metadata
	}
}

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
	}
}

func WithID(id NodeID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func NewMessage(content MessageContent, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		Content:    content,
		ID:         NewNodeID(),
		Time:       now,
		LastUpdate: now,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func NewChatMessage(role Role, text string, options ...MessageOption) *Message {
	return NewMessage(&ChatMessageContent{
		Role: role,
		Text: text,
	}, options...)
}

func (mn *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		ContentType ContentType `json:"contentType"`
		*Alias
	}{
		ContentType: mn.Content.ContentType(),
		Alias:       (*Alias)(mn),
	})
}

type messageAlias struct {
	ID          NodeID                 `json:"id"`
	ParentID    NodeID                 `json:"parentID"`
	Time        time.Time              `json:"time"`
	LastUpdate  time.Time              `json:"lastUpdate"`
	Content     json.RawMessage        `json:"content"`
	Metadata    map[string]interface{} `json:"metadata"`
	ContentType ContentType            `json:"contentType"`
}

func (mn *Message) UnmarshalJSON(data []byte) error {
	var ma messageAlias
	if err := json.Unmarshal(data, &ma); err != nil {
		return err
	}

	var content MessageContent
	switch ma.ContentType {
	case ContentTypeChatMessage:
		content = &ChatMessageContent{}
	case ContentTypeToolUse:
		content = &ToolUseContent{}
	case ContentTypeToolResult:
		content = &ToolResultContent{}
	default:
		return errors.Errorf("unknown content type %q", ma.ContentType)
	}
	if err := json.Unmarshal(ma.Content, content); err != nil {
		return errors.Wrapf(err, "could not decode %s content", ma.ContentType)
	}

	mn.Content = content
	mn.ID = ma.ID
	mn.ParentID = ma.ParentID
	mn.Time = ma.Time
	mn.LastUpdate = ma.LastUpdate
	mn.Metadata = ma.Metadata
	return nil
}

type Conversation []*Message

// HasSystemPrompt reports whether the conversation contains a system message.
func (messages Conversation) HasSystemPrompt() bool {
	for _, m := range messages {
		if c, ok := m.Content.(*ChatMessageContent); ok && c.Role == RoleSystem {
			return true
		}
	}
	return false
}

// GetSinglePrompt renders the chat messages as a single "[role]: text" block,
// used for token counting and plain-text dumps.
func (messages Conversation) GetSinglePrompt() string {
	if len(messages) == 0 {
		return ""
	}

	if len(messages) == 1 {
		if c, ok := messages[0].Content.(*ChatMessageContent); ok {
			return c.Text
		}
	}

	var sb strings.Builder
	for _, message := range messages {
		if c, ok := message.Content.(*ChatMessageContent); ok {
			sb.WriteString(fmt.Sprintf("[%s]: %s\n", c.Role, c.Text))
		}
	}

	return sb.String()
}
