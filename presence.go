package shelfie

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Presence is the derived online state of a user.
type Presence struct {
	IsOnline bool
	LastSeen *time.Time
}

// DerivePresence normalizes a raw profile. A nil profile is offline with no
// last-seen time.
func DerivePresence(u *User) Presence {
	if u == nil {
		return Presence{}
	}
	p := Presence{IsOnline: truthy(u.IsOnline)}
	if t, ok := rawTime(u.LastSeen); ok {
		p.LastSeen = &t
	}
	return p
}

// truthy accepts only boolean true, the string "true" and the number 1.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true"
	case float64:
		return x == 1
	case int:
		return x == 1
	case int64:
		return x == 1
	}
	return false
}

func rawTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return ParseTimestamp(x)
	case float64:
		if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(x)), true
	case int64:
		if x <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(x), true
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return *x, true
	}
	return time.Time{}, false
}

// PresenceLabel renders p relative to now. Compact labels drop the "ago"
// suffix and are meant for avatars and list rows.
func PresenceLabel(p Presence, now time.Time, compact bool) string {
	if p.IsOnline {
		if compact {
			return "Online"
		}
		return "Online now"
	}
	if p.LastSeen == nil {
		return "Offline"
	}
	d := now.Sub(*p.LastSeen)
	if d < 0 {
		return "Offline"
	}
	return relativeLabel(d, *p.LastSeen, now, compact)
}

func relativeLabel(d time.Duration, at, now time.Time, compact bool) string {
	suffix := " ago"
	if compact {
		suffix = ""
	}
	switch {
	case d < time.Minute:
		if compact {
			return "now"
		}
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm%s", int(d/time.Minute), suffix)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%s", int(d/time.Hour), suffix)
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd%s", int(d/(24*time.Hour)), suffix)
	}
	return shortDate(at, now)
}

// shortDate formats t as "Jan 2", adding the year when it differs from now.
func shortDate(t, now time.Time) string {
	t = t.In(now.Location())
	if t.Year() != now.Year() {
		return t.Format("Jan 2, 2006")
	}
	return t.Format("Jan 2")
}

// LastSeenLabel is the full sentence used on profile cards.
func LastSeenLabel(u *User, now time.Time) string {
	label := PresenceLabel(DerivePresence(u), now, false)
	if strings.HasPrefix(label, "Online") || label == "Offline" {
		return label
	}
	return "Last seen " + label
}
