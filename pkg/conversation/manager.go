package conversation

// Manager owns the chat history sent to the model.
type Manager interface {
	GetConversation() Conversation
	AppendMessages(msgs ...*Message)
	GetMessage(ID NodeID) (*Message, bool)
	// Clear drops all messages and starts a new conversation id.
	Clear()

	SaveToFile(filename string) error
}
