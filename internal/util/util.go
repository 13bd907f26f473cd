package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

func NormalizePhone(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), " ", "")
}

// NewID returns prefix + "_" + ULID. ULIDs sort by creation time, which keeps
// outbox and audit rows in insertion order on the primary key.
func NewID(prefix string) string {
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewEventID() string    { return NewID("evt") }
func NewAuditID() string    { return NewID("aud") }
func NewDispatchID() string { return NewID("dsp") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
