package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	shelfie "github.com/shelfie-social/shelfie/sdk/golang"
)

const requestTimeout = 15 * time.Second

// getClient builds a client from the config. It does not require a token.
func getClient(cfg *Config) *shelfie.Client {
	var opts []shelfie.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, shelfie.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Auth.Token != "" {
		opts = append(opts, shelfie.WithToken(cfg.Auth.Token))
	}
	if cfg.Default.RateLimit > 0 {
		opts = append(opts, shelfie.WithRateLimit(cfg.Default.RateLimit))
	}
	return shelfie.NewClient(opts...)
}

// getSession loads the config and starts a session for the signed-in
// viewer, with the conversation list already loaded.
func getSession(ctx context.Context, targetID string) (*shelfie.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.UserID == "" {
		return nil, errors.New("not signed in. Run 'shelfie login <user-id> <token>' first")
	}

	var opts []shelfie.SessionOption
	if cfg.Default.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Default.PollInterval)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid poll_interval %q", cfg.Default.PollInterval)
		}
		opts = append(opts, shelfie.WithPollInterval(d))
	}

	s := shelfie.NewSession(getClient(cfg), shelfie.Viewer{UserID: cfg.Auth.UserID}, opts...)
	if err := s.Start(ctx, targetID); err != nil {
		return nil, userError(err)
	}
	return s, nil
}

// openConversation starts a session with conversationID selected.
func openConversation(ctx context.Context, conversationID string) (*shelfie.Session, error) {
	s, err := getSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if s.Timeline.Active() != conversationID {
		if err := s.Select(ctx, conversationID); err != nil {
			s.Close()
			return nil, userError(err)
		}
	}
	return s, nil
}

// userError turns an SDK error into the text shown to the user.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(shelfie.UserMessage(err))
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// ============================================================================
// Output
// ============================================================================

func printConversation(c *shelfie.Conversation, viewerID string, now time.Time) {
	name := shelfie.DisplayName(c, viewerID)
	status := ""
	if c.IsDirect() {
		p := shelfie.DerivePresence(shelfie.OtherMember(c, viewerID))
		status = shelfie.PresenceLabel(p, now, true)
	}

	pv := shelfie.FormatPreview(c, viewerID)
	line := pv.Text
	if pv.Icon != shelfie.IconNone {
		line = "[" + string(pv.Icon) + "] " + line
	}
	if pv.Prefix != "" {
		line = pv.Prefix + ": " + line
	}

	fmt.Printf("%-14s %-24s %-6s %s\n", c.ID, name, status, line)
}

func printMessages(msgs []shelfie.Message, viewerID string, now time.Time) {
	dividers := make(map[int]string)
	for _, d := range shelfie.ComputeDividers(msgs, now) {
		dividers[d.Index] = d.Label
	}
	for i, m := range msgs {
		if label, ok := dividers[i]; ok {
			fmt.Printf("\n── %s ──\n", label)
		}
		printMessage(&m, viewerID, now)
	}
}

func printMessage(m *shelfie.Message, viewerID string, now time.Time) {
	who := m.SenderID
	if who == viewerID {
		who = "you"
	}
	at := "--:--"
	if ts, ok := m.Time(); ok {
		at = shelfie.TimeLabel(ts, now.Location())
	}

	body := m.Content
	switch {
	case m.Type == shelfie.MessageImage:
		body = "[photo] " + valueOrDefault(m.FileName, m.Content)
	case m.Type == shelfie.MessageFile:
		body = "[file] " + valueOrDefault(m.FileName, m.Content)
	case m.Kind == shelfie.KindLink && m.Link != nil:
		body = fmt.Sprintf("[link] %s <%s>", valueOrDefault(m.Link.Label, m.Link.URL), m.Link.URL)
	}
	fmt.Printf("%8s  %-10s %s  (%s)\n", at, who, strings.TrimSpace(body), m.ID)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
