package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	ID          string    `json:"sessionId"`
	Messages    []Message `json:"messages"`
	StartedAt   time.Time `json:"startTime"`
	Metadata    Metadata  `json:"metadata"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// marker is the small record used for expiry checks without decoding the
// whole transcript.
type marker struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// Keys names the two storage records kept per visitor.
type Keys struct {
	Conversation string
	Marker       string
}

// KeysFor returns the storage keys for a visitor (one browser or device).
func KeysFor(visitorID string) Keys {
	return Keys{
		Conversation: "intake:conversation:" + visitorID,
		Marker:       "intake:session:" + visitorID,
	}
}

// EncodeSnapshot serializes a snapshot.
func EncodeSnapshot(s Snapshot) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: encode snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeSnapshot parses a snapshot and checks it is usable.
func DecodeSnapshot(data string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Snapshot{}, fmt.Errorf("session: decode snapshot: %w", err)
	}
	if s.ID == "" {
		return Snapshot{}, errors.New("session: snapshot missing id")
	}
	if s.StartedAt.IsZero() {
		return Snapshot{}, errors.New("session: snapshot missing start time")
	}
	for i, m := range s.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return Snapshot{}, fmt.Errorf("session: snapshot message %d has role %q", i, m.Role)
		}
	}
	return s, nil
}

func encodeMarker(m marker) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("session: encode marker: %w", err)
	}
	return string(b), nil
}

func decodeMarker(data string) (marker, error) {
	var m marker
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return marker{}, fmt.Errorf("session: decode marker: %w", err)
	}
	if m.ID == "" || m.StartedAt.IsZero() {
		return marker{}, errors.New("session: incomplete marker")
	}
	return m, nil
}
