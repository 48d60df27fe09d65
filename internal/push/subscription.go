package push

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Subscription holds the useful values from a PushSubscription object
// acquired from the browser.
//
// https://w3c.github.io/push-api/
type Subscription struct {
	// Endpoint is the URL push messages for this client are sent to.
	Endpoint string

	// Key is the client's P-256 public key (the keys.p256dh field).
	Key []byte

	// Auth is the pre-shared authentication secret (the keys.auth field).
	Auth []byte
}

// SubscriptionFromJSON parses a JSON-encoded PushSubscription object as
// the browser serializes it.
func SubscriptionFromJSON(b []byte) (*Subscription, error) {
	var sub struct {
		Endpoint string
		Keys     struct {
			P256dh string
			Auth   string
		}
	}
	if err := json.Unmarshal(b, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("parse subscription: missing endpoint")
	}

	key, err := decodeClientKey("p256dh", sub.Keys.P256dh)
	if err != nil {
		return nil, err
	}
	auth, err := decodeClientKey("auth", sub.Keys.Auth)
	if err != nil {
		return nil, err
	}

	return &Subscription{Endpoint: sub.Endpoint, Key: key, Auth: auth}, nil
}

// decodeClientKey decodes one base64url key field. Some clients
// incorrectly pad these values; padding is stripped before decoding.
func decodeClientKey(field, value string) ([]byte, error) {
	enc := base64.URLEncoding.WithPadding(base64.NoPadding)
	b, err := enc.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, fmt.Errorf("parse subscription %s: %w", field, err)
	}
	return b, nil
}
