package shelfie

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ConversationStore holds the viewer's conversation list. It is the only
// owner of that list; every other component reads copies.
type ConversationStore struct {
	backend Backend

	mu       sync.RWMutex
	userID   string
	convs    []Conversation
	selected string
}

// NewConversationStore creates an empty store backed by backend.
func NewConversationStore(backend Backend) *ConversationStore {
	return &ConversationStore{backend: backend}
}

// Load fetches all conversations of userID. On failure the previous list is
// kept and the error is logged and returned. If targetID names a direct
// conversation in the fresh list it becomes the selection.
func (s *ConversationStore) Load(ctx context.Context, userID, targetID string) error {
	convs, err := s.backend.ListConversations(ctx, userID)
	if err != nil {
		jww.WARN.Printf("[STORE] failed to load conversations for %s: %v", userID, err)
		return errors.Wrap(err, "load conversations")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID {
		s.selected = ""
	}
	s.userID = userID
	s.convs = append([]Conversation(nil), convs...)
	if targetID != "" {
		for i := range s.convs {
			if s.convs[i].ID == targetID && s.convs[i].IsDirect() {
				s.selected = targetID
				break
			}
		}
	}
	jww.DEBUG.Printf("[STORE] loaded %d conversations for %s", len(convs), userID)
	return nil
}

// UserID returns the user the list was last loaded for.
func (s *ConversationStore) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// All returns a copy of the full list, group conversations included.
func (s *ConversationStore) All() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Conversation(nil), s.convs...)
}

// Get returns a copy of the conversation with id.
func (s *ConversationStore) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.convs {
		if s.convs[i].ID == id {
			c := s.convs[i]
			return &c, true
		}
	}
	return nil, false
}

// Search returns the direct conversations whose display name contains
// query, ignoring case. Group conversations never appear.
func (s *ConversationStore) Search(query string) []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Conversation
	for _, c := range s.convs {
		if !c.IsDirect() {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(DisplayName(&c, s.userID)), q) {
			out = append(out, c)
		}
	}
	return out
}

// Upsert replaces the conversation with the same id, or prepends c.
func (s *ConversationStore) Upsert(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.convs {
		if s.convs[i].ID == c.ID {
			s.convs[i] = c
			return
		}
	}
	s.convs = append([]Conversation{c}, s.convs...)
}

// Select marks id as the selected conversation. Only direct conversations
// present in the list can be selected.
func (s *ConversationStore) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.selected = ""
		return true
	}
	for i := range s.convs {
		if s.convs[i].ID == id && s.convs[i].IsDirect() {
			s.selected = id
			return true
		}
	}
	return false
}

// Selected returns the selected conversation id, or "".
func (s *ConversationStore) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// StartDirect opens (or reuses) the direct conversation with otherUserID
// and upserts it.
func (s *ConversationStore) StartDirect(ctx context.Context, otherUserID string) (*Conversation, error) {
	me := s.UserID()
	if me == "" {
		return nil, ErrNotAuthenticated
	}
	if otherUserID == "" || otherUserID == me {
		return nil, &ValidationError{Reason: "pick someone else to message"}
	}
	c, err := s.backend.CreateDirectConversation(ctx, me, otherUserID)
	if err != nil {
		return nil, errors.Wrap(err, "start conversation")
	}
	s.Upsert(*c)
	return c, nil
}

// SearchUsers looks up users to start a conversation with, excluding the
// viewer.
func (s *ConversationStore) SearchUsers(ctx context.Context, query string) ([]UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	users, err := s.backend.SearchUsers(ctx, query, s.UserID())
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	return users, nil
}

// ============================================================================
// Display helpers
// ============================================================================

// OtherMember returns the first member of c that is not viewerID.
func OtherMember(c *Conversation, viewerID string) *User {
	if c == nil {
		return nil
	}
	for i := range c.Members {
		if c.Members[i].ID != viewerID {
			return &c.Members[i]
		}
	}
	return nil
}

// DisplayName is the title shown for c.
func DisplayName(c *Conversation, viewerID string) string {
	if c == nil {
		return ""
	}
	if c.Type == ConversationGroup {
		if c.Name != "" {
			return c.Name
		}
		return "Group"
	}
	other := OtherMember(c, viewerID)
	switch {
	case other == nil:
		return "DM"
	case other.FullName != "":
		return other.FullName
	case other.Username != "":
		return other.Username
	}
	return "DM"
}
