package shelfie

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Viewer identifies the signed-in user a Session acts for.
type Viewer struct {
	UserID string
}

// Authenticated reports whether the viewer is signed in.
func (v Viewer) Authenticated() bool { return v.UserID != "" }

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.interval = d }
}

// WithClock replaces time.Now, for labels and local timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// Session is the chat view of one viewer: the conversation list, the active
// conversation's timeline and block state, and the loop polling it.
type Session struct {
	*emitter

	viewer   Viewer
	backend  Backend
	interval time.Duration
	now      func() time.Time

	Conversations *ConversationStore
	Timeline      *Timeline
	sync          *SyncLoop

	// switchMu serializes selection changes so the timeline, the poll
	// loop and the active record always name the same conversation.
	switchMu sync.Mutex

	mu     sync.Mutex
	active *Conversation
	block  BlockState
}

// NewSession wires the components for viewer. Nothing is fetched until
// Start.
func NewSession(backend Backend, viewer Viewer, opts ...SessionOption) *Session {
	s := &Session{
		emitter:  newEmitter(),
		viewer:   viewer,
		backend:  backend,
		interval: DefaultPollInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Conversations = NewConversationStore(backend)
	s.Timeline = NewTimeline(backend, viewer.UserID, s.now)
	s.sync = NewSyncLoop(s.interval, s.refresh)
	return s
}

// Viewer returns the viewer the session acts for.
func (s *Session) Viewer() Viewer { return s.viewer }

// Now returns the session clock's current time.
func (s *Session) Now() time.Time { return s.now() }

// Start loads the conversation list. If targetID names a direct
// conversation it is selected. A failed list load is logged and the
// session stays usable.
func (s *Session) Start(ctx context.Context, targetID string) error {
	if !s.viewer.Authenticated() {
		return ErrNotAuthenticated
	}
	if err := s.Conversations.Load(ctx, s.viewer.UserID, targetID); err != nil {
		return err
	}
	s.emit(EventConversations, s.Conversations.All())

	if sel := s.Conversations.Selected(); sel != "" {
		return s.Select(ctx, sel)
	}
	return nil
}

// Reload refreshes the conversation list and the active conversation's
// record without changing the selection.
func (s *Session) Reload(ctx context.Context) error {
	if !s.viewer.Authenticated() {
		return ErrNotAuthenticated
	}
	if err := s.Conversations.Load(ctx, s.viewer.UserID, ""); err != nil {
		return err
	}
	s.emit(EventConversations, s.Conversations.All())

	s.mu.Lock()
	if s.active != nil {
		if c, ok := s.Conversations.Get(s.active.ID); ok {
			s.active = c
			s.block = ResolveBlock(c, s.viewer.UserID)
		}
	}
	st, active := s.block, s.active != nil
	s.mu.Unlock()
	if active {
		s.emit(EventBlock, st)
	}
	return nil
}

// Select makes id the active conversation: the previous poll loop is
// stopped, the timeline is reloaded in the foreground and polling restarts
// for id. An empty id deselects. A Select overtaken by another one while
// loading returns ErrStaleConversation.
func (s *Session) Select(ctx context.Context, id string) error {
	if !s.viewer.Authenticated() {
		return ErrNotAuthenticated
	}

	s.switchMu.Lock()
	if id == "" {
		s.sync.Stop()
		s.Timeline.Deactivate()
		s.Conversations.Select("")
		s.mu.Lock()
		s.active, s.block = nil, BlockState{}
		s.mu.Unlock()
		s.switchMu.Unlock()
		s.emit(EventSelected, (*Conversation)(nil))
		return nil
	}

	c, ok := s.Conversations.Get(id)
	if !ok || !c.IsDirect() {
		s.switchMu.Unlock()
		return ErrNotDirect
	}
	s.sync.Stop()
	s.Conversations.Select(id)
	s.Timeline.switchTo(id)
	s.mu.Lock()
	s.active = c
	s.block = ResolveBlock(c, s.viewer.UserID)
	st := s.block
	s.mu.Unlock()
	s.sync.Start(id)
	s.switchMu.Unlock()

	s.emit(EventSelected, c)
	s.emit(EventBlock, st)

	if err := s.Timeline.Load(ctx, id, false); err != nil {
		if err != ErrStaleConversation {
			s.fail(err)
		}
		return err
	}
	s.emit(EventTimeline, s.Timeline.Messages())
	return nil
}

// Active returns the active conversation record, or nil.
func (s *Session) Active() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	c := *s.active
	return &c
}

// Block returns the block state of the active conversation.
func (s *Session) Block() BlockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

// Polling reports whether the sync loop is running and for which
// conversation.
func (s *Session) Polling() (string, bool) {
	return s.sync.Running()
}

// Refresh reloads the active timeline in the foreground.
func (s *Session) Refresh(ctx context.Context) error {
	id := s.Timeline.Active()
	if id == "" {
		return ErrNoConversation
	}
	if err := s.Timeline.Load(ctx, id, false); err != nil {
		if err != ErrStaleConversation {
			s.fail(err)
		}
		return err
	}
	s.emit(EventTimeline, s.Timeline.Messages())
	return nil
}

// refresh is the sync loop's silent reload.
func (s *Session) refresh(ctx context.Context, id string) error {
	if err := s.Timeline.Load(ctx, id, true); err != nil {
		return err
	}
	if s.Timeline.Active() == id {
		s.emit(EventTimeline, s.Timeline.Messages())
	}
	return nil
}

// ============================================================================
// Mutations
// ============================================================================

// Send posts text to the active conversation.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	id, err := s.sendable()
	if err != nil {
		return nil, err
	}
	msg, err := s.Timeline.send(ctx, id, text)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.afterSend(msg)
	return msg, nil
}

// SendAttachment uploads file into the active conversation.
func (s *Session) SendAttachment(ctx context.Context, file Attachment) (*Message, error) {
	id, err := s.sendable()
	if err != nil {
		return nil, err
	}
	msg, err := s.Timeline.sendAttachment(ctx, id, file)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.afterSend(msg)
	return msg, nil
}

// Retry resends a failed send of the active conversation.
func (s *Session) Retry(ctx context.Context, ref string) (*Message, error) {
	id, err := s.sendable()
	if err != nil {
		return nil, err
	}
	msg, err := s.Timeline.retry(ctx, id, ref)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.afterSend(msg)
	return msg, nil
}

// Edit changes the text of one of the active conversation's messages.
func (s *Session) Edit(ctx context.Context, messageID, text string) error {
	if err := s.Timeline.Edit(ctx, messageID, text); err != nil {
		s.fail(err)
		return err
	}
	s.emit(EventTimeline, s.Timeline.Messages())
	return nil
}

// Delete removes one of the active conversation's messages.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.Timeline.Remove(ctx, messageID); err != nil {
		s.fail(err)
		return err
	}
	s.emit(EventTimeline, s.Timeline.Messages())
	return nil
}

// ToggleBlock flips the viewer's block on the active conversation.
func (s *Session) ToggleBlock(ctx context.Context) (BlockState, error) {
	return s.SetBlocked(ctx, !s.Block().ByMe)
}

// SetBlocked blocks or unblocks the active conversation for the viewer. The
// returned conversation record replaces the local one in both the detail
// view and the list.
func (s *Session) SetBlocked(ctx context.Context, blocked bool) (BlockState, error) {
	active := s.Active()
	if active == nil {
		return BlockState{}, ErrNoConversation
	}
	c, err := s.backend.SetBlockState(ctx, active.ID, s.viewer.UserID, blocked)
	if err != nil {
		err = errors.Wrap(err, "update block state")
		s.fail(err)
		return s.Block(), err
	}
	if c.ID == "" {
		c.ID = active.ID
	}
	s.Conversations.Upsert(*c)

	s.mu.Lock()
	if s.active != nil && s.active.ID == c.ID {
		s.active = c
		s.block = ResolveBlock(c, s.viewer.UserID)
	}
	st := s.block
	s.mu.Unlock()

	jww.INFO.Printf("[BLOCK] %s blocked=%t by %s", c.ID, blocked, s.viewer.UserID)
	s.emit(EventBlock, st)
	s.emit(EventConversations, s.Conversations.All())
	return st, nil
}

// StartDirect opens a direct conversation with userID and selects it.
func (s *Session) StartDirect(ctx context.Context, userID string) (*Conversation, error) {
	if !s.viewer.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	c, err := s.Conversations.StartDirect(ctx, userID)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.emit(EventConversations, s.Conversations.All())
	if err := s.Select(ctx, c.ID); err != nil {
		return c, err
	}
	return c, nil
}

// Close stops polling and drops all event handlers.
func (s *Session) Close() {
	s.sync.Stop()
	s.removeAll()
}

// sendable returns the conversation a send may go to. The block state
// checked is the one of that conversation, which must also be the
// timeline's.
func (s *Session) sendable() (string, error) {
	if !s.viewer.Authenticated() {
		return "", ErrNotAuthenticated
	}
	s.mu.Lock()
	active, st := s.active, s.block
	s.mu.Unlock()
	if active == nil {
		return "", ErrNoConversation
	}
	if active.ID != s.Timeline.Active() {
		return "", ErrStaleConversation
	}
	if !st.CanSend() {
		return "", ErrBlocked
	}
	return active.ID, nil
}

// afterSend refreshes the list entry's last-message summary from the
// confirmed record. The next list load replaces it with the server's.
func (s *Session) afterSend(msg *Message) {
	s.emit(EventTimeline, s.Timeline.Messages())

	c, ok := s.Conversations.Get(msg.ConversationID)
	if !ok {
		return
	}
	c.LastMessage = &LastMessage{
		Type:     msg.Type,
		Kind:     msg.Kind,
		Content:  msg.Content,
		FileName: msg.FileName,
		Link:     msg.Link,
	}
	for i := range c.Members {
		if c.Members[i].ID == s.viewer.UserID {
			me := c.Members[i]
			c.LastSender = &me
		}
	}
	if c.LastSender == nil || c.LastSender.ID != s.viewer.UserID {
		c.LastSender = &User{ID: s.viewer.UserID}
	}
	c.LastMessageAt = msg.CreatedAt
	c.UpdatedAt = msg.CreatedAt
	s.Conversations.Upsert(*c)
	s.emit(EventConversations, s.Conversations.All())
}

// fail emits a foreground failure. Validation failures are reported too;
// they never reached the network.
func (s *Session) fail(err error) {
	s.emit(EventError, err)
}
