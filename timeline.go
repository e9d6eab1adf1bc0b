package shelfie

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// TimelineState is the load state of the active conversation.
type TimelineState int

const (
	TimelineIdle TimelineState = iota
	TimelineLoading
	TimelineReady
	// TimelineFailed means the last foreground load failed. The previous
	// list, if any, is still shown.
	TimelineFailed
)

func (s TimelineState) String() string {
	switch s {
	case TimelineLoading:
		return "loading"
	case TimelineReady:
		return "ready"
	case TimelineFailed:
		return "failed"
	default:
		return "idle"
	}
}

// SendState tracks a local write until the server answers. A confirmed
// send leaves the pending list and its server record enters the timeline.
type SendState string

const (
	SendPending SendState = "pending"
	SendFailed  SendState = "failed"
)

// PendingSend is a send that is in flight or has failed. It never appears
// in the message list. Failed sends stay listed until retried or dismissed.
type PendingSend struct {
	Ref            string
	ConversationID string
	Content        string
	State          SendState
	Err            error

	file *Attachment
}

// ============================================================================
// Timeline
// ============================================================================

// Timeline holds the ordered messages of the single active conversation.
// The list is replaced wholesale on every load and discarded when the
// active conversation changes.
type Timeline struct {
	backend  Backend
	viewerID string
	now      func() time.Time

	mu       sync.Mutex
	active   string
	state    TimelineState
	messages []Message
	err      error
	// seq numbers loads as they are issued. applied is the newest seq that
	// messages already reflect; a confirmed local write moves it up to seq so
	// loads issued before the write are dropped.
	seq     uint64
	applied uint64
	pending []*PendingSend
}

// NewTimeline creates an idle timeline. now may be nil.
func NewTimeline(backend Backend, viewerID string, now func() time.Time) *Timeline {
	if now == nil {
		now = time.Now
	}
	return &Timeline{
		backend:  backend,
		viewerID: viewerID,
		now:      now,
	}
}

// Active returns the active conversation id, or "".
func (t *Timeline) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// State returns the current load state.
func (t *Timeline) State() TimelineState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error of the last failed foreground load.
func (t *Timeline) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Messages returns a copy of the list in server order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

// Pending returns in-flight and failed sends, oldest first.
func (t *Timeline) Pending() []PendingSend {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingSend, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, *p)
	}
	return out
}

// Dismiss drops a failed send. In-flight sends cannot be dismissed.
func (t *Timeline) Dismiss(ref string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pending {
		if p.Ref == ref && p.State == SendFailed {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Activate switches to conversationID, discarding the current list, and
// loads it in the foreground.
func (t *Timeline) Activate(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		t.Deactivate()
		return nil
	}
	t.switchTo(conversationID)
	return t.Load(ctx, conversationID, false)
}

// switchTo makes conversationID active with an empty list, without loading.
func (t *Timeline) switchTo(conversationID string) {
	t.mu.Lock()
	t.active = conversationID
	t.messages = nil
	t.err = nil
	t.state = TimelineLoading
	t.applied = t.seq
	t.mu.Unlock()
	jww.DEBUG.Printf("[TIMELINE] activated %s", conversationID)
}

// Deactivate drops the active conversation and returns to idle.
func (t *Timeline) Deactivate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = ""
	t.messages = nil
	t.err = nil
	t.state = TimelineIdle
	t.applied = t.seq
}

// Load fetches the messages of conversationID and replaces the list. A
// silent load never changes the visible state and never records an error.
// Responses for a conversation that is no longer active, or older than a
// result already applied, are discarded.
func (t *Timeline) Load(ctx context.Context, conversationID string, silent bool) error {
	t.mu.Lock()
	if t.active == "" {
		t.mu.Unlock()
		return ErrNoConversation
	}
	if conversationID != t.active {
		t.mu.Unlock()
		return ErrStaleConversation
	}
	t.seq++
	seq := t.seq
	if !silent {
		t.state = TimelineLoading
	}
	t.mu.Unlock()

	msgs, err := t.backend.ListMessages(ctx, conversationID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != conversationID {
		jww.DEBUG.Printf("[TIMELINE] discarding load #%d for inactive %s", seq, conversationID)
		return ErrStaleConversation
	}
	if seq <= t.applied {
		jww.DEBUG.Printf("[TIMELINE] discarding load #%d, state as of #%d already applied", seq, t.applied)
		if !silent && t.state == TimelineLoading {
			t.state = TimelineReady
		}
		return nil
	}
	if err != nil {
		if silent {
			jww.DEBUG.Printf("[TIMELINE] silent refresh of %s failed: %v", conversationID, err)
			return errors.Wrap(err, "refresh messages")
		}
		jww.WARN.Printf("[TIMELINE] failed to load %s: %v", conversationID, err)
		t.err = err
		t.state = TimelineFailed
		return errors.Wrap(err, "load messages")
	}

	t.messages = append(make([]Message, 0, len(msgs)), msgs...)
	t.applied = seq
	t.err = nil
	t.state = TimelineReady
	return nil
}

// Send posts text to the active conversation. The message is appended only
// once the server returns it; a failed send leaves the list untouched and is
// kept in Pending.
func (t *Timeline) Send(ctx context.Context, text string) (*Message, error) {
	return t.send(ctx, t.Active(), text)
}

// SendAttachment uploads file into the active conversation under the same
// rule as Send.
func (t *Timeline) SendAttachment(ctx context.Context, file Attachment) (*Message, error) {
	return t.sendAttachment(ctx, t.Active(), file)
}

// Retry resends a failed send. It must belong to the active conversation.
func (t *Timeline) Retry(ctx context.Context, ref string) (*Message, error) {
	return t.retry(ctx, t.Active(), ref)
}

func (t *Timeline) send(ctx context.Context, conversationID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	if text == "" {
		return nil, ErrEmptyMessage
	}
	p, err := t.track(conversationID, text, nil)
	if err != nil {
		return nil, err
	}
	return t.post(ctx, p)
}

func (t *Timeline) sendAttachment(ctx context.Context, conversationID string, file Attachment) (*Message, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	if file.FileName == "" || len(file.Data) == 0 {
		return nil, ErrEmptyAttachment
	}
	p, err := t.track(conversationID, file.FileName, &file)
	if err != nil {
		return nil, err
	}
	return t.post(ctx, p)
}

func (t *Timeline) retry(ctx context.Context, conversationID, ref string) (*Message, error) {
	t.mu.Lock()
	var p *PendingSend
	for _, q := range t.pending {
		if q.Ref == ref {
			p = q
		}
	}
	switch {
	case p == nil || p.State != SendFailed:
		t.mu.Unlock()
		return nil, ErrSendNotFound
	case conversationID == "" || p.ConversationID != conversationID || t.active != conversationID:
		t.mu.Unlock()
		return nil, ErrStaleConversation
	}
	p.State = SendPending
	p.Err = nil
	t.mu.Unlock()
	return t.post(ctx, p)
}

// track registers a pending send for conversationID, which must still be
// the active conversation.
func (t *Timeline) track(conversationID, content string, file *Attachment) (*PendingSend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != conversationID {
		return nil, ErrStaleConversation
	}
	p := &PendingSend{
		Ref:            uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		State:          SendPending,
		file:           file,
	}
	t.pending = append(t.pending, p)
	return p, nil
}

func (t *Timeline) post(ctx context.Context, p *PendingSend) (*Message, error) {
	ctx = withClientRef(ctx, p.Ref)
	if p.file != nil {
		msg, err := t.backend.UploadAttachment(ctx, p.ConversationID, t.viewerID, *p.file)
		return t.settle(p, msg, err, "upload attachment")
	}
	msg, err := t.backend.SendMessage(ctx, p.ConversationID, t.viewerID, p.Content)
	return t.settle(p, msg, err, "send message")
}

func (t *Timeline) settle(p *PendingSend, msg *Message, err error, op string) (*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil && (msg == nil || msg.ID == "") {
		err = errors.New("server returned no message")
	}
	if err != nil {
		p.State = SendFailed
		p.Err = err
		jww.INFO.Printf("[TIMELINE] %s to %s failed: %v", op, p.ConversationID, err)
		return nil, errors.Wrap(err, op)
	}

	for i, q := range t.pending {
		if q == p {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	if msg.ConversationID == "" {
		msg.ConversationID = p.ConversationID
	}
	if msg.SenderID == "" {
		msg.SenderID = t.viewerID
	}
	if _, ok := msg.Time(); !ok {
		msg.CreatedAt = t.now().UTC().Format(time.RFC3339Nano)
	}
	if t.active == p.ConversationID {
		t.mergeLocked(*msg)
	}
	return msg, nil
}

// mergeLocked replaces the message with the same id or appends it at the
// tail, and invalidates loads issued before this write.
func (t *Timeline) mergeLocked(msg Message) {
	t.applied = t.seq
	for i := range t.messages {
		if t.messages[i].ID == msg.ID {
			t.messages[i] = msg
			return
		}
	}
	t.messages = append(t.messages, msg)
}

func (t *Timeline) find(messageID string) (string, *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		if t.messages[i].ID == messageID {
			m := t.messages[i]
			return t.active, &m
		}
	}
	return t.active, nil
}

// Edit replaces the text of a text message and reloads the list from the
// server. Empty content is refused without a request.
func (t *Timeline) Edit(ctx context.Context, messageID, text string) error {
	conversationID, msg := t.find(messageID)
	if conversationID == "" {
		return ErrNoConversation
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.Type != MessageText {
		return ErrNotEditable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	if _, err := t.backend.EditMessage(ctx, messageID, t.viewerID, text); err != nil {
		return errors.Wrap(err, "edit message")
	}

	t.mu.Lock()
	if t.active == conversationID {
		t.applied = t.seq
	}
	t.mu.Unlock()
	// the edit stands even if the viewer switched away before the reload
	if err := t.Load(ctx, conversationID, false); err != ErrStaleConversation {
		return err
	}
	return nil
}

// Remove deletes a message on the server and then drops it locally.
func (t *Timeline) Remove(ctx context.Context, messageID string) error {
	conversationID, msg := t.find(messageID)
	if conversationID == "" {
		return ErrNoConversation
	}
	if msg == nil {
		return ErrMessageNotFound
	}

	if err := t.backend.DeleteMessage(ctx, messageID, t.viewerID); err != nil {
		return errors.Wrap(err, "delete message")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != conversationID {
		return nil
	}
	t.applied = t.seq
	for i := range t.messages {
		if t.messages[i].ID == messageID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
	return nil
}

// ============================================================================
// Date dividers
// ============================================================================

// Divider marks the start of a calendar day in the list.
type Divider struct {
	Index int
	Label string
}

// Dividers computes the day dividers of the current list.
func (t *Timeline) Dividers(now time.Time) []Divider {
	return ComputeDividers(t.Messages(), now)
}

// ComputeDividers returns a divider before every message that starts a new
// calendar day, in now's location.
func ComputeDividers(msgs []Message, now time.Time) []Divider {
	var out []Divider
	for i := range msgs {
		if NeedsDivider(msgs, i, now.Location()) {
			ts, _ := msgs[i].Time()
			out = append(out, Divider{Index: i, Label: DividerLabel(ts, now)})
		}
	}
	return out
}

// NeedsDivider reports whether message i starts a new day. Messages without
// a valid timestamp never get a divider.
func NeedsDivider(msgs []Message, i int, loc *time.Location) bool {
	cur, ok := msgs[i].Time()
	if !ok {
		return false
	}
	if i == 0 {
		return true
	}
	prev, ok := msgs[i-1].Time()
	if !ok {
		return true
	}
	return !sameDay(cur.In(loc), prev.In(loc))
}

// DividerLabel is "Today", "Yesterday", or a short date.
func DividerLabel(t, now time.Time) string {
	t = t.In(now.Location())
	if sameDay(t, now) {
		return "Today"
	}
	if sameDay(t, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return shortDate(t, now)
}

// TimeLabel is the clock time shown on a message bubble.
func TimeLabel(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("3:04 PM")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
