// Package mock provides test doubles for the Discord message layer.
package mock

import (
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one recorded ChannelMessageSendComplex call. File readers
// are drained into Files so tests can inspect the payload.
type SentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
	Files     map[string][]byte
}

// Sender records channel messages for test assertions.
type Sender struct {
	mu sync.Mutex

	// Sent records all ChannelMessageSendComplex calls.
	Sent []SentMessage

	// Typing records the channel IDs of ChannelTyping calls.
	Typing []string

	// Err is returned by ChannelMessageSendComplex when non-nil.
	Err error
}

// ChannelMessageSendComplex records the message and returns a stub message.
func (m *Sender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	files := make(map[string][]byte, len(data.Files))
	for _, f := range data.Files {
		b, _ := io.ReadAll(f.Reader)
		files[f.Name] = b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChannelID: channelID, Message: data, Files: files})
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID}, nil
}

// ChannelTyping records the typing indicator.
func (m *Sender) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, channelID)
	return nil
}

// Messages returns a copy of the recorded messages. Thread-safe.
func (m *Sender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
