package bus

import (
	"strconv"
	"time"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Username  string
	Content   string
	Timestamp time.Time
	// Callback is set when the message is an inline-button press rather than text.
	Callback *Callback
	Metadata map[string]any
}

// Callback carries an inline keyboard press.
type Callback struct {
	ID        string
	Data      string
	MessageID int
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// ChatIDInt parses ChatID; chats without a numeric id map to 0.
func (m *InboundMessage) ChatIDInt() int64 {
	id, err := strconv.ParseInt(m.ChatID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// ParseMode is "Markdown" or empty for plain text.
	ParseMode string
	Keyboard  *Keyboard
	// EditMessageID, when non-zero, replaces that message instead of sending a new one.
	EditMessageID int
	Metadata      map[string]any
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard struct {
	Rows [][]Button
}

type Button struct {
	Text string
	Data string
}
