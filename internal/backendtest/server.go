// Package backendtest runs an in-memory chat REST backend for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Server is a fake backend speaking the shelfie REST envelope. Records are
// kept as plain maps so tests exercise the client's decoding.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	users         map[string]map[string]any
	conversations []map[string]any
	messages      map[string][]map[string]any
	failures      map[string]failure
	requests      []string
	clock         func() time.Time
	seq           int
}

type failure struct {
	status  int
	message string
}

// New starts a server. Call Close when done.
func New() *Server {
	s := &Server{
		users:    make(map[string]map[string]any),
		messages: make(map[string][]map[string]any),
		failures: make(map[string]failure),
		clock:    time.Now,
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.record)
	api.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/direct", s.createDirect).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/attachments", s.upload).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/block", s.setBlock).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.editMessage).Methods(http.MethodPatch)
	api.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/users/search", s.searchUsers).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// ============================================================================
// Seeding and fault injection
// ============================================================================

// SetClock fixes the time used for createdAt values.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = now
}

// AddUser registers a user profile.
func (s *Server) AddUser(id, username, fullName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = map[string]any{"id": id, "username": username, "fullName": fullName}
}

// AddDirect creates a direct conversation between two known users.
func (s *Server) AddDirect(id, userA, userB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, map[string]any{
		"id":        id,
		"type":      "direct",
		"members":   []any{s.users[userA], s.users[userB]},
		"blockedBy": []any{},
	})
}

// AddGroup creates a group conversation.
func (s *Server) AddGroup(id, name string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ms []any
	for _, m := range members {
		ms = append(ms, s.users[m])
	}
	s.conversations = append(s.conversations, map[string]any{
		"id": id, "type": "group", "name": name, "members": ms, "blockedBy": []any{},
	})
}

// AddMessage appends a message to a conversation.
func (s *Server) AddMessage(conversationID, id, senderID, msgType, content, createdAt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], map[string]any{
		"id": id, "conversationId": conversationID, "senderId": senderID,
		"type": msgType, "content": content, "createdAt": createdAt,
	})
}

// Fail makes every request to route (e.g. "POST /api/conversations/c1/messages")
// answer status with message until Recover is called.
func (s *Server) Fail(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, message: message}
}

// Recover clears a failure set by Fail.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Requests returns "METHOD path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many requests matched route.
func (s *Server) Count(route string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == route {
			n++
		}
	}
	return n
}

// Messages returns the stored messages of a conversation.
func (s *Server) Messages(conversationID string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.messages[conversationID]...)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests = append(s.requests, route)
		f, failing := s.failures[route]
		s.mu.Unlock()
		if failing {
			writeError(w, f.status, "FAILED", f.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{}
	for _, c := range s.conversations {
		if hasMember(c, userID) {
			out = append(out, c)
		}
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation(id) == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	out := append([]map[string]any{}, s.messages[id]...)
	writeData(w, http.StatusOK, out)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		SenderID  string `json:"senderId"`
		Content   string `json:"content"`
		ClientRef string `json:"clientRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversation(id)
	if c == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	if blocked(c) {
		writeError(w, http.StatusForbidden, "BLOCKED", "this conversation is blocked")
		return
	}
	msg := s.newMessage(id, body.SenderID, "text", body.Content)
	msg["clientRef"] = body.ClientRef
	writeData(w, http.StatusCreated, msg)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file is required")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable file")
		return
	}

	msgType := "file"
	if strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		msgType = "image"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation(id) == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	msg := s.newMessage(id, r.FormValue("senderId"), msgType, "/uploads/"+header.Filename)
	msg["fileName"] = header.Filename
	writeData(w, http.StatusCreated, msg)
}

func (s *Server) setBlock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		UserID  string `json:"userId"`
		Blocked bool   `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversation(id)
	if c == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	var next []any
	for _, b := range c["blockedBy"].([]any) {
		if b != body.UserID {
			next = append(next, b)
		}
	}
	if body.Blocked {
		next = append(next, body.UserID)
	}
	if next == nil {
		next = []any{}
	}
	c["blockedBy"] = next
	writeData(w, http.StatusOK, c)
}

func (s *Server) createDirect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		A string `json:"userIdA"`
		B string `json:"userIdB"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c["type"] == "direct" && hasMember(c, body.A) && hasMember(c, body.B) {
			writeData(w, http.StatusOK, c)
			return
		}
	}
	if s.users[body.B] == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}
	c := map[string]any{
		"id":        "dm-" + uuid.NewString()[:8],
		"type":      "direct",
		"members":   []any{s.users[body.A], s.users[body.B]},
		"blockedBy": []any{},
	}
	s.conversations = append(s.conversations, c)
	writeData(w, http.StatusCreated, c)
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		SenderID string `json:"senderId"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.message(id)
	if m == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
		return
	}
	if m["senderId"] != body.SenderID {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "you can only edit your own messages")
		return
	}
	m["content"] = body.Content
	writeData(w, http.StatusOK, m)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	senderID := r.URL.Query().Get("senderId")

	s.mu.Lock()
	defer s.mu.Unlock()
	for conv, msgs := range s.messages {
		for i, m := range msgs {
			if m["id"] != id {
				continue
			}
			if m["senderId"] != senderID {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "you can only delete your own messages")
				return
			}
			s.messages[conv] = append(msgs[:i:i], msgs[i+1:]...)
			writeData(w, http.StatusOK, map[string]any{"id": id})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
}

func (s *Server) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	exclude := r.URL.Query().Get("exclude")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{}
	for id, u := range s.users {
		if id == exclude {
			continue
		}
		name := strings.ToLower(fmt.Sprint(u["username"], " ", u["fullName"]))
		if strings.Contains(name, q) {
			out = append(out, u)
		}
	}
	writeData(w, http.StatusOK, out)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) conversation(id string) map[string]any {
	for _, c := range s.conversations {
		if c["id"] == id {
			return c
		}
	}
	return nil
}

func (s *Server) message(id string) map[string]any {
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m["id"] == id {
				return m
			}
		}
	}
	return nil
}

func (s *Server) newMessage(conversationID, senderID, msgType, content string) map[string]any {
	s.seq++
	msg := map[string]any{
		"id":             fmt.Sprintf("m-%d", s.seq),
		"conversationId": conversationID,
		"senderId":       senderID,
		"type":           msgType,
		"content":        content,
		"createdAt":      s.clock().UTC().Format(time.RFC3339Nano),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg
}

func hasMember(c map[string]any, userID string) bool {
	members, _ := c["members"].([]any)
	for _, m := range members {
		if u, ok := m.(map[string]any); ok && u["id"] == userID {
			return true
		}
	}
	return false
}

func blocked(c map[string]any) bool {
	b, _ := c["blockedBy"].([]any)
	return len(b) > 0
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
}
