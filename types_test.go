package shelfie

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeLinkMarker(t *testing.T) {
	m, ok := DecodeLinkMarker(`__link__:{"url":"https://books.example.com/dune","label":"Dune"}`)
	require.True(t, ok)
	require.Equal(t, &LinkMarker{URL: "https://books.example.com/dune", Label: "Dune"}, m)

	for _, content := range []string{
		"plain text",
		"__link__:not json",
		`__link__:{}`,
		`see __link__:{"url":"x"}`,
	} {
		_, ok := DecodeLinkMarker(content)
		require.False(t, ok, content)
	}
}

func TestMessageUnmarshalResolvesKind(t *testing.T) {
	t.Run("link marker", func(t *testing.T) {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","senderId":"u1","type":"text","content":"__link__:{\"url\":\"https://x.io\",\"label\":\"X\"}"}`), &m))
		require.Equal(t, KindLink, m.Kind)
		require.Equal(t, "X", m.Link.Label)
	})

	t.Run("missing type defaults to text", func(t *testing.T) {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","content":"hi"}`), &m))
		require.Equal(t, MessageText, m.Type)
		require.Equal(t, KindPlain, m.Kind)
		require.Nil(t, m.Link)
	})

	t.Run("files never carry links", func(t *testing.T) {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","type":"file","content":"__link__:{\"url\":\"u\"}"}`), &m))
		require.Equal(t, KindPlain, m.Kind)
	})

	t.Run("last message summary", func(t *testing.T) {
		var c Conversation
		require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","type":"direct","members":[],"lastMessage":{"type":"text","content":"__link__:{\"url\":\"https://x.io\"}"}}`), &c))
		require.Equal(t, KindLink, c.LastMessage.Kind)
		require.Equal(t, "https://x.io", c.LastMessage.Link.URL)
	})
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 2, 10, 40, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-03-02T10:40:00Z",
		"2024-03-02T10:40:00.000Z",
		"2024-03-02T10:40:00",
		"2024-03-02 10:40:00",
		"1709376000000",
	} {
		got, ok := ParseTimestamp(s)
		require.True(t, ok, s)
		require.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	for _, s := range []string{"", "  ", "soon", "-5"} {
		_, ok := ParseTimestamp(s)
		require.False(t, ok, s)
	}
}
