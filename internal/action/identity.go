package action

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainAction is the domain-separation prefix for idempotency keys. The
// version suffix allows a future algorithm change without colliding with
// keys already seen by the backend.
const DomainAction = "backstop/action/v1"

// IdempotencyKey computes the stable identity of a queued action: a
// domain-separated SHA-256 over the canonical JSON of its type and payload.
//
// The store-assigned record ID is intentionally excluded. The same logical
// action re-enqueued after a restart gets a new record ID but the same
// idempotency key, which is exactly what lets the backend deduplicate
// at-least-once replays.
func (r Record) IdempotencyKey() (string, error) {
	payload, err := MarshalCanonical(r.Payload)
	if err != nil {
		return "", fmt.Errorf("idempotency key for %s: %w", r.Type, err)
	}

	h := sha256.New()
	h.Write([]byte(DomainAction))
	h.Write([]byte{0x00}) // null separator prevents domain/data ambiguity
	h.Write([]byte(r.Type))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
