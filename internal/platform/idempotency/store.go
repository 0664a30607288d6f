package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a processed-event record.
type Status string

const (
	// DefaultTTL is the default duration that processed-event records are retained.
	DefaultTTL = 30 * 24 * time.Hour
	// StatusPending indicates that a handler has claimed the key but not yet recorded an outcome.
	StatusPending Status = "pending"
	// StatusCompleted indicates that the event was fully processed and must not be reapplied.
	StatusCompleted Status = "completed"
)

// ClaimState describes the outcome of attempting to claim an event key.
type ClaimState int

const (
	// ClaimStateNew means no existing record was found and the caller may process the event.
	ClaimStateNew ClaimState = iota
	// ClaimStateCompleted means the event was already processed and the stored outcome applies.
	ClaimStateCompleted
	// ClaimStatePending means another handler is currently processing this event.
	ClaimStatePending
)

// Claim encapsulates the result of claiming a key, including the stored record if available.
type Claim struct {
	State  ClaimState
	Record Record
}

// Record captures the persisted processing metadata for an event key.
type Record struct {
	Key         string
	Fingerprint string
	Status      Status
	Outcome     string
	OrderNumber string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Outcome describes the processing result that should be stored for duplicate deliveries.
type Outcome struct {
	Result      string
	OrderNumber string
}

// Store persists event claims and outcomes so duplicate gateway deliveries apply exactly once.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	MarkProcessed(ctx context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when an event key is reused with a different payload fingerprint.
var ErrFingerprintMismatch = errors.New("idempotency: key claimed for different payload fingerprint")

func documentKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

// Fingerprint produces a stable digest of the event payload for mismatch detection.
func Fingerprint(payload []byte) string {
	return sha256Hex(payload)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
