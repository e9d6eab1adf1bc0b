package shelfie

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// Event names emitted by a Session.
const (
	EventConversations = "conversations.updated"
	EventSelected      = "conversation.selected"
	EventTimeline      = "timeline.updated"
	EventBlock         = "block.changed"
	EventError         = "error"
)

// EventHandler handles session events. payload depends on the event:
// []Conversation, *Conversation, []Message, BlockState or error.
// Timeline events from polling arrive on the sync goroutine; a handler must
// not call Select or Close from there.
type EventHandler func(event string, payload any)

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[string][]EventHandler)}
}

// On registers handler for event.
func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.listeners[event]...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					jww.WARN.Printf("[EVENTS] handler for %s panicked: %v", event, r)
				}
			}()
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}
