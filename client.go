// Package shelfie provides the Go SDK for the shelfie chat view.
//
// It covers the conversation synchronization core: a conversation store, the
// message timeline of the active conversation, block state, a polling sync
// loop, and the presentation helpers (presence, previews, date dividers).
//
// Example:
//
//	client := shelfie.NewClient(shelfie.WithBaseURL("https://api.shelfie.social"), shelfie.WithToken(token))
//	session := shelfie.NewSession(client, shelfie.Viewer{UserID: "u-1"})
//	defer session.Close()
//
//	session.Start(ctx, "")
//	session.Select(ctx, "conv-123")
//	session.Send(ctx, "hello")
package shelfie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second

	// maxAttachmentSize mirrors the server's upload limit.
	maxAttachmentSize = 25 * 1024 * 1024
)

// ============================================================================
// Backend
// ============================================================================

// Backend is the server of record. Client implements it over HTTP; tests
// substitute fakes.
type Backend interface {
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error)
	EditMessage(ctx context.Context, messageID, senderID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, messageID, senderID string) error
	UploadAttachment(ctx context.Context, conversationID, senderID string, file Attachment) (*Message, error)
	SetBlockState(ctx context.Context, conversationID, userID string, blocked bool) (*Conversation, error)
	CreateDirectConversation(ctx context.Context, userIDA, userIDB string) (*Conversation, error)
	SearchUsers(ctx context.Context, query, excludingUserID string) ([]UserSummary, error)
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    ratelimit.Limiter
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit caps outgoing requests per second. Zero disables pacing.
func WithRateLimit(perSecond int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = ratelimit.New(perSecond)
		} else {
			c.limiter = ratelimit.NewUnlimited()
		}
	}
}

// NewClient creates a new REST client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: ratelimit.NewUnlimited(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

var _ Backend = (*Client)(nil)

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends req and decodes the envelope. A non-2xx status or ok=false
// becomes an *APIError; no response becomes a *TransportError.
func (c *Client) do(req *http.Request) (*Result, error) {
	c.limiter.Take()
	op := req.Method + " " + req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		jww.DEBUG.Printf("[HTTP] %s failed: %v", op, err)
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	jww.TRACE.Printf("[HTTP] %s -> %d (%d bytes)", op, resp.StatusCode, len(data))

	var result Result
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			if resp.StatusCode >= 300 {
				return nil, &APIError{Status: resp.StatusCode, Message: statusMessage(resp.StatusCode, data)}
			}
			return nil, errors.Wrap(err, "failed to unmarshal response")
		}
	}

	if resp.StatusCode >= 300 || (len(data) > 0 && !result.OK) {
		apiErr := &APIError{Status: resp.StatusCode}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = statusMessage(resp.StatusCode, nil)
		}
		return nil, apiErr
	}
	return &result, nil
}

func statusMessage(status int, body []byte) string {
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	if t := http.StatusText(status); t != "" {
		return strings.ToLower(t)
	}
	return fmt.Sprintf("request failed (%d)", status)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, query url.Values) (*Result, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader, query)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func decodeData[T any](r *Result) (*T, error) {
	var result T
	if err := r.Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	return &result, nil
}

// ============================================================================
// Backend operations
// ============================================================================

func (c *Client) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	res, err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, url.Values{"userId": {userID}})
	if err != nil {
		return nil, err
	}
	convs, err := decodeData[[]Conversation](res)
	if err != nil {
		return nil, err
	}
	return *convs, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	res, err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeData[[]Message](res)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	payload := map[string]string{
		"senderId":  senderID,
		"content":   content,
		"clientRef": clientRefFrom(ctx),
	}
	res, err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[Message](res)
}

func (c *Client) EditMessage(ctx context.Context, messageID, senderID, content string) (*Message, error) {
	payload := map[string]string{"senderId": senderID, "content": content}
	res, err := c.doJSON(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(messageID), payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[Message](res)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, url.Values{"senderId": {senderID}})
	return err
}

func (c *Client) SetBlockState(ctx context.Context, conversationID, userID string, blocked bool) (*Conversation, error) {
	payload := map[string]interface{}{"userId": userID, "blocked": blocked}
	res, err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/block", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[Conversation](res)
}

func (c *Client) CreateDirectConversation(ctx context.Context, userIDA, userIDB string) (*Conversation, error) {
	payload := map[string]string{"userIdA": userIDA, "userIdB": userIDB}
	res, err := c.doJSON(ctx, http.MethodPost, "/api/conversations/direct", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[Conversation](res)
}

func (c *Client) SearchUsers(ctx context.Context, query, excludingUserID string) ([]UserSummary, error) {
	q := url.Values{"q": {query}}
	if excludingUserID != "" {
		q.Set("exclude", excludingUserID)
	}
	res, err := c.doJSON(ctx, http.MethodGet, "/api/users/search", nil, q)
	if err != nil {
		return nil, err
	}
	users, err := decodeData[[]UserSummary](res)
	if err != nil {
		return nil, err
	}
	return *users, nil
}

// UploadAttachment uploads file as a multipart form and returns the message
// the server created for it.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, senderID string, file Attachment) (*Message, error) {
	if file.FileName == "" {
		return nil, errors.New("fileName is required when uploading bytes")
	}
	if len(file.Data) > maxAttachmentSize {
		return nil, &ValidationError{Reason: "file exceeds maximum size of 25 MB"}
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(file.FileName)
	}

	var buf bytes.Buffer
	contentType, err := writeAttachmentForm(&buf, senderID, file.FileName, mimeType, file.Data)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/attachments", &buf, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeData[Message](res)
}

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".epub": "application/epub+zip",
		".webp": "image/webp", ".heic": "image/heic",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		// Strip charset parameter (e.g. "text/plain; charset=utf-8" → "text/plain")
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// ============================================================================
// Client references
// ============================================================================

type clientRefKey struct{}

// writeAttachmentForm encodes the upload form into dst and returns its
// content type.
func writeAttachmentForm(dst io.Writer, senderID, fileName, mimeType string, data []byte) (string, error) {
	w := multipart.NewWriter(dst)
	if err := w.WriteField("senderId", senderID); err != nil {
		return "", errors.Wrap(err, "failed to write form field")
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", errors.Wrap(err, "failed to create form file")
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(err, "failed to write file data")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize form")
	}
	return w.FormDataContentType(), nil
}

// withClientRef attaches the idempotency reference of a pending send.
func withClientRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, clientRefKey{}, ref)
}

func clientRefFrom(ctx context.Context) string {
	if ref, ok := ctx.Value(clientRefKey{}).(string); ok && ref != "" {
		return ref
	}
	return uuid.NewString()
}
