package shelfie

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeBackend is an in-memory Backend. ListMessages snapshots the stored
// list on entry, then waits on the conversation's gate if one is set, so
// tests can order responses after later writes.
type fakeBackend struct {
	mu       sync.Mutex
	convs    []Conversation
	messages map[string][]Message
	gates    map[string]chan struct{}
	entered  chan string
	calls    map[string]int
	nextID   int

	// sendGate holds SendMessage before it stores anything.
	sendGate chan struct{}
	// onEdit runs after an edit is stored, outside the lock.
	onEdit func()

	listConvErr error
	listErr     error
	sendErr     error
	editErr     error
	deleteErr   error
	blockErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: make(map[string][]Message),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

var _ Backend = (*fakeBackend)(nil)

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) gate(conversationID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[conversationID] = g
	return g
}

func (f *fakeBackend) ungate(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.gates, conversationID)
}

func (f *fakeBackend) add(conversationID string, msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		m.ConversationID = conversationID
		if m.Type == "" {
			m.Type = MessageText
		}
		f.messages[conversationID] = append(f.messages[conversationID], m)
	}
}

func (f *fakeBackend) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["conversations"]++
	if f.listConvErr != nil {
		return nil, f.listConvErr
	}
	return append([]Conversation(nil), f.convs...), nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	f.mu.Lock()
	f.calls["list"]++
	snapshot := append([]Message(nil), f.messages[conversationID]...)
	err := f.listErr
	gate := f.gates[conversationID]
	entered := f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- conversationID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	f.mu.Lock()
	gate, entered := f.sendGate, f.entered
	f.mu.Unlock()
	if gate != nil {
		if entered != nil {
			entered <- conversationID
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["send"]++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	m := Message{
		ID:             fmt.Sprintf("srv-%d", f.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           MessageText,
		Kind:           KindPlain,
		Content:        content,
		CreatedAt:      time.Date(2024, 3, 2, 12, 0, f.nextID, 0, time.UTC).Format(time.RFC3339),
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	return &m, nil
}

func (f *fakeBackend) EditMessage(ctx context.Context, messageID, senderID, content string) (*Message, error) {
	m, err := f.edit(messageID, content)
	f.mu.Lock()
	hook := f.onEdit
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return m, err
}

func (f *fakeBackend) edit(messageID, content string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["edit"]++
	if f.editErr != nil {
		return nil, f.editErr
	}
	for id, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				f.messages[id][i].Content = content
				m := f.messages[id][i]
				return &m, nil
			}
		}
	}
	return nil, &APIError{Status: 404, Message: "message not found"}
}

func (f *fakeBackend) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				f.messages[id] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return &APIError{Status: 404, Message: "message not found"}
}

func (f *fakeBackend) UploadAttachment(ctx context.Context, conversationID, senderID string, file Attachment) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["upload"]++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	m := Message{
		ID:             fmt.Sprintf("srv-%d", f.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           MessageFile,
		Kind:           KindPlain,
		Content:        "/uploads/" + file.FileName,
		FileName:       file.FileName,
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	return &m, nil
}

func (f *fakeBackend) SetBlockState(ctx context.Context, conversationID, userID string, blocked bool) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["block"]++
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	for i := range f.convs {
		c := &f.convs[i]
		if c.ID != conversationID {
			continue
		}
		var next []string
		for _, id := range c.BlockedBy {
			if id != userID {
				next = append(next, id)
			}
		}
		if blocked {
			next = append(next, userID)
		}
		c.BlockedBy = next
		out := *c
		return &out, nil
	}
	return nil, &APIError{Status: 404, Message: "conversation not found"}
}

func (f *fakeBackend) CreateDirectConversation(ctx context.Context, userIDA, userIDB string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["direct"]++
	c := Conversation{
		ID:      "dm-" + userIDA + "-" + userIDB,
		Type:    ConversationDirect,
		Members: []User{{ID: userIDA}, {ID: userIDB}},
	}
	f.convs = append(f.convs, c)
	return &c, nil
}

func (f *fakeBackend) SearchUsers(ctx context.Context, query, excludingUserID string) ([]UserSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["users"]++
	return []UserSummary{{ID: "u2", Username: query}}, nil
}

func direct(id, viewer, other string) Conversation {
	return Conversation{
		ID:      id,
		Type:    ConversationDirect,
		Members: []User{{ID: viewer, FullName: "Viewer"}, {ID: other, Username: other, FullName: "Other " + other}},
	}
}
