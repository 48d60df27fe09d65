// Package push turns server push payloads into user-visible notifications
// and routes notification interactions back into the application.
//
// The gateway never owns push subscription setup - that belongs to the
// application UI. It only receives already-delivered payloads, renders
// them through an injected Sink, and resolves clicks to navigation via an
// injected WindowRegistry. A malformed payload never suppresses a
// notification: the defaults fill in for anything missing, up to and
// including the entire payload.
package push

import (
	"encoding/json"
)

// Payload is the push message shape the backend sends. Every field is
// optional on the wire; Defaults supplies the rest.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon"`
	Badge string      `json:"badge"`
	Tag   string      `json:"tag"`
	Data  PayloadData `json:"data"`
}

// PayloadData carries the navigation target for a notification click.
type PayloadData struct {
	URL string `json:"url"`
}

// Actions every notification offers. Read navigates; dismiss just closes.
const (
	ActionRead    = "read"
	ActionDismiss = "dismiss"
)

// Merge parses raw JSON over the defaults. Missing fields keep their
// default; a parse failure falls back entirely to the defaults - a broken
// payload must still produce a notification.
func Merge(defaults Payload, raw []byte) Payload {
	out := defaults
	if len(raw) == 0 {
		return out
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return defaults
	}

	if p.Title != "" {
		out.Title = p.Title
	}
	if p.Body != "" {
		out.Body = p.Body
	}
	if p.Icon != "" {
		out.Icon = p.Icon
	}
	if p.Badge != "" {
		out.Badge = p.Badge
	}
	if p.Tag != "" {
		out.Tag = p.Tag
	}
	if p.Data.URL != "" {
		out.Data.URL = p.Data.URL
	}
	return out
}

// Notification is what the sink renders.
type Notification struct {
	Payload

	// RequireInteraction keeps the notification visible until the user
	// acts on it; time-sensitive alerts must not auto-expire.
	RequireInteraction bool

	// Actions are the interaction buttons, in display order.
	Actions []string
}
