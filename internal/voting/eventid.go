package voting

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Event kinds used when building idempotency keys.
const (
	EventKindInit    = "init"
	EventKindVote    = "vote"
	EventKindTimeout = "timeout"
)

// SystemParticipant stands in for the participant on engine-originated events.
const SystemParticipant = "system"

// GenerateEventID builds an idempotency key. With a sequence key the result is deterministic,
// so repeated sweeps over the same deadline collapse to one event. Without one the key embeds
// the current time and a random suffix; callers must reuse it across their own retries.
func GenerateEventID(kind, participantID, battleID, sequenceKey string) string {
	kind = strings.TrimSpace(kind)
	if seq := strings.TrimSpace(sequenceKey); seq != "" {
		return fmt.Sprintf("%s:%s:%s:%s", kind, battleID, participantID, seq)
	}
	return fmt.Sprintf("%s:%s:%s:%d:%s", kind, battleID, participantID, time.Now().UnixMilli(), randSuffix(4))
}

// DeadlineSequenceKey binds a timeout event to an exact deadline value.
func DeadlineSequenceKey(deadline time.Time) string {
	return fmt.Sprintf("%d", deadline.UTC().UnixMilli())
}

func randSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err == nil {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%x", time.Now().UnixNano()%1_000_000)
}
