package shelfie

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatPreview(t *testing.T) {
	me := &User{ID: "u1", FullName: "Ada Lovelace"}
	other := &User{ID: "u2", Username: "grace", FullName: "Grace Hopper"}

	tests := []struct {
		name   string
		last   *LastMessage
		sender *User
		want   Preview
	}{
		{"no last message", nil, other, Preview{}},
		{"image", &LastMessage{Type: MessageImage, Content: "/up/a.png"}, other,
			Preview{Text: "Photo", Prefix: "Grace", Icon: IconImage}},
		{"file uses name", &LastMessage{Type: MessageFile, Content: "/up/x", FileName: "reading-list.pdf"}, me,
			Preview{Text: "reading-list.pdf", Prefix: "You", Icon: IconAttachment}},
		{"long file name", &LastMessage{Type: MessageFile, FileName: strings.Repeat("f", 40)}, other,
			Preview{Text: strings.Repeat("f", 30) + "...", Prefix: "Grace", Icon: IconAttachment}},
		{"link marker label", &LastMessage{Type: MessageText, Kind: KindLink, Link: &LinkMarker{URL: "https://x.io", Label: "Dune"}}, other,
			Preview{Text: "Dune", Prefix: "Grace", Icon: IconLink}},
		{"bare url", &LastMessage{Type: MessageText, Content: "look https://books.example.com/1"}, other,
			Preview{Text: "Link", Prefix: "Grace", Icon: IconLink}},
		{"short text", &LastMessage{Type: MessageText, Content: "see you at book club"}, nil,
			Preview{Text: "see you at book club"}},
		{"long text", &LastMessage{Type: MessageText, Content: strings.Repeat("a", 40)}, other,
			Preview{Text: strings.Repeat("a", 35) + "...", Prefix: "Grace"}},
		{"username when no full name", &LastMessage{Type: MessageText, Content: "hey"}, &User{ID: "u3", Username: "linus"},
			Preview{Text: "hey", Prefix: "linus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conversation{ID: "c", Type: ConversationDirect, LastMessage: tt.last, LastSender: tt.sender}
			require.Equal(t, tt.want, FormatPreview(c, "u1"))
		})
	}

	t.Run("truncation counts runes", func(t *testing.T) {
		require.Equal(t, strings.Repeat("é", 35)+"...", truncate(strings.Repeat("é", 36), 35))
		require.Equal(t, "short", truncate("short", 35))
	})
}
