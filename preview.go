package shelfie

import (
	"regexp"
	"strings"
)

// Icon identifies the glyph shown next to a preview.
type Icon string

const (
	IconNone       Icon = ""
	IconImage      Icon = "image"
	IconAttachment Icon = "attachment"
	IconLink       Icon = "link"
)

const (
	previewTextLimit = 35
	previewFileLimit = 30
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Preview is the one-line summary of a conversation's last message.
type Preview struct {
	Text   string
	Prefix string
	Icon   Icon
}

// FormatPreview summarizes c's last message for the viewer. A conversation
// without a last message yields the zero Preview.
func FormatPreview(c *Conversation, viewerID string) Preview {
	if c == nil || c.LastMessage == nil {
		return Preview{}
	}
	lm := c.LastMessage
	p := Preview{Prefix: senderPrefix(c.LastSender, viewerID)}

	switch {
	case lm.Type == MessageImage:
		p.Text = "Photo"
		p.Icon = IconImage
	case lm.Type == MessageFile:
		name := lm.FileName
		if name == "" {
			name = lm.Content
		}
		p.Text = truncate(name, previewFileLimit)
		p.Icon = IconAttachment
	case lm.Kind == KindLink || lm.Link != nil:
		p.Text = "Link"
		if lm.Link != nil && lm.Link.Label != "" {
			p.Text = lm.Link.Label
		}
		p.Icon = IconLink
	case urlPattern.MatchString(lm.Content):
		p.Text = "Link"
		p.Icon = IconLink
	default:
		p.Text = truncate(lm.Content, previewTextLimit)
	}
	return p
}

func senderPrefix(sender *User, viewerID string) string {
	if sender == nil {
		return ""
	}
	if sender.ID != "" && sender.ID == viewerID {
		return "You"
	}
	if first := strings.Fields(sender.FullName); len(first) > 0 {
		return first[0]
	}
	return sender.Username
}

// truncate cuts s to limit runes and appends "..." when it was longer.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
