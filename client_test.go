package shelfie_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	shelfie "github.com/shelfie-social/shelfie/sdk/golang"
	"github.com/shelfie-social/shelfie/sdk/golang/internal/backendtest"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.SetClock(func() time.Time { return time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC) })
	srv.AddUser("u1", "ada", "Ada Lovelace")
	srv.AddUser("u2", "grace", "Grace Hopper")
	srv.AddUser("u3", "linus", "Linus Torvalds")
	srv.AddDirect("c1", "u1", "u2")
	srv.AddDirect("c2", "u1", "u3")
	srv.AddGroup("g1", "Book Club", "u1", "u2", "u3")
	srv.AddMessage("c1", "m1", "u2", "text", "have you read Dune?", "2024-03-01T10:00:00Z")
	srv.AddMessage("c1", "m2", "u1", "text", `__link__:{"url":"https://books.example.com/dune","label":"Dune"}`, "2024-03-01T10:05:00Z")
	srv.AddMessage("c2", "m3", "u3", "text", "hi", "2024-03-02T09:00:00Z")
	return srv
}

func newClient(srv *backendtest.Server) *shelfie.Client {
	return shelfie.NewClient(shelfie.WithBaseURL(srv.URL+"/"), shelfie.WithToken("tok"), shelfie.WithTimeout(5*time.Second))
}

func TestClientConversationsAndMessages(t *testing.T) {
	srv := newServer(t)
	c := newClient(srv)
	ctx := context.Background()

	convs, err := c.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 3)
	require.Equal(t, shelfie.ConversationDirect, convs[0].Type)
	require.Equal(t, "Grace Hopper", convs[0].Members[1].FullName)

	msgs, err := c.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, shelfie.KindPlain, msgs[0].Kind)
	require.Equal(t, shelfie.KindLink, msgs[1].Kind)
	require.Equal(t, "Dune", msgs[1].Link.Label)

	t.Run("not found is rejected", func(t *testing.T) {
		_, err := c.ListMessages(ctx, "nope")
		require.Equal(t, shelfie.KindRejected, shelfie.Classify(err))
		require.Equal(t, "conversation not found", shelfie.UserMessage(err))
		var apiErr *shelfie.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.Status)
		require.Equal(t, "NOT_FOUND", apiErr.Code)
	})
}

func TestClientWrites(t *testing.T) {
	srv := newServer(t)
	c := newClient(srv)
	ctx := context.Background()

	msg, err := c.SendMessage(ctx, "c1", "u1", "yes!")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, "u1", msg.SenderID)
	require.Equal(t, "2024-03-02T12:00:00Z", msg.CreatedAt)

	edited, err := c.EditMessage(ctx, msg.ID, "u1", "yes, twice")
	require.NoError(t, err)
	require.Equal(t, "yes, twice", edited.Content)

	_, err = c.EditMessage(ctx, "m1", "u1", "not mine")
	require.Equal(t, "you can only edit your own messages", shelfie.UserMessage(err))

	require.NoError(t, c.DeleteMessage(ctx, msg.ID, "u1"))
	require.Len(t, srv.Messages("c1"), 2)

	up, err := c.UploadAttachment(ctx, "c1", "u1", shelfie.Attachment{FileName: "cover.png", Data: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	require.Equal(t, shelfie.MessageImage, up.Type)
	require.Equal(t, "cover.png", up.FileName)

	up, err = c.UploadAttachment(ctx, "c1", "u1", shelfie.Attachment{FileName: "list.md", Data: []byte("# list")})
	require.NoError(t, err)
	require.Equal(t, shelfie.MessageFile, up.Type)

	conv, err := c.SetBlockState(ctx, "c1", "u1", true)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, conv.BlockedBy)

	_, err = c.SendMessage(ctx, "c1", "u1", "still there?")
	require.Equal(t, "this conversation is blocked", shelfie.UserMessage(err))

	conv, err = c.SetBlockState(ctx, "c1", "u1", false)
	require.NoError(t, err)
	require.Empty(t, conv.BlockedBy)

	dm, err := c.CreateDirectConversation(ctx, "u2", "u3")
	require.NoError(t, err)
	require.True(t, dm.IsDirect())
	again, err := c.CreateDirectConversation(ctx, "u3", "u2")
	require.NoError(t, err)
	require.Equal(t, dm.ID, again.ID)

	users, err := c.SearchUsers(ctx, "gr", "u1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "u2", users[0].ID)
}

func TestClientRequestHeaders(t *testing.T) {
	var got *http.Request
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"data":{"id":"m9","senderId":"u1","type":"text","content":"hi"}}`))
	}))
	defer ts.Close()

	c := shelfie.NewClient(shelfie.WithBaseURL(ts.URL), shelfie.WithToken("secret"), shelfie.WithRateLimit(100))
	_, err := c.SendMessage(context.Background(), "c1", "u1", "hi")
	require.NoError(t, err)

	require.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	require.NotEmpty(t, got.Header.Get("X-Request-ID"))
	require.Equal(t, "/api/conversations/c1/messages", got.URL.Path)
	require.Equal(t, "u1", body["senderId"])
	require.Equal(t, "hi", body["content"])
}

func TestClientErrors(t *testing.T) {
	t.Run("plain text error body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		}))
		defer ts.Close()

		_, err := shelfie.NewClient(shelfie.WithBaseURL(ts.URL)).ListConversations(context.Background(), "u1")
		require.Equal(t, shelfie.KindRejected, shelfie.Classify(err))
		require.Equal(t, "upstream unavailable", shelfie.UserMessage(err))
	})

	t.Run("empty success body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer ts.Close()

		require.NoError(t, shelfie.NewClient(shelfie.WithBaseURL(ts.URL)).DeleteMessage(context.Background(), "m1", "u1"))
	})

	t.Run("transport", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		_, err := shelfie.NewClient(shelfie.WithBaseURL(url)).ListConversations(context.Background(), "u1")
		require.Equal(t, shelfie.KindTransport, shelfie.Classify(err))
		require.Equal(t, "network error, please try again", shelfie.UserMessage(err))
	})

	t.Run("oversized attachment", func(t *testing.T) {
		c := shelfie.NewClient(shelfie.WithBaseURL("http://127.0.0.1:1"))
		_, err := c.UploadAttachment(context.Background(), "c1", "u1", shelfie.Attachment{
			FileName: "big.bin",
			Data:     make([]byte, 25*1024*1024+1),
		})
		require.Equal(t, shelfie.KindValidation, shelfie.Classify(err))
	})
}
