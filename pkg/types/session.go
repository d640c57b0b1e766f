// Package types provides the core data types for the Quorum server.
package types

// SpeakerNone is the sentinel value for current_speaker when no speaker
// is expected to talk (awaiting synthesis or completed).
const SpeakerNone = "none"

// Status is the lifecycle state of a deliberation session.
type Status string

const (
	StatusActive            Status = "active"
	StatusAwaitingSynthesis Status = "awaiting_synthesis"
	StatusCompleted         Status = "completed"
)

// Session represents one deliberation: an ordered speaker rotation over a
// fixed number of rounds, plus its transcript.
type Session struct {
	ID             string             `json:"id"`
	Project        string             `json:"project"`
	Topic          string             `json:"topic"`
	Status         Status             `json:"status"`
	MaxRounds      int                `json:"maxRounds"`
	CurrentRound   int                `json:"currentRound"`
	Speakers       []string           `json:"speakers"`
	CurrentSpeaker string             `json:"currentSpeaker"`
	Profiles       map[string]Profile `json:"participantProfiles,omitempty"`
	Log            []Turn             `json:"log"`
	Synthesis      string             `json:"synthesis,omitempty"`
	// PendingTurnID is the idempotency token the next accepted turn must
	// carry. Empty once the session leaves the active state.
	PendingTurnID string      `json:"pendingTurnID,omitempty"`
	Time          SessionTime `json:"time"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Turn is one logged utterance. Immutable once appended.
type Turn struct {
	Round          int    `json:"round"`
	Speaker        string `json:"speaker"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	TurnID         string `json:"turnID"`
	ChannelUsed    string `json:"channelUsed,omitempty"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// SpeakerIndex returns the position of name in the rotation, or -1.
func (s *Session) SpeakerIndex(name string) int {
	for i, sp := range s.Speakers {
		if sp == name {
			return i
		}
	}
	return -1
}

// HasSpeaker reports whether name is a member of the rotation.
func (s *Session) HasSpeaker(name string) bool {
	return s.SpeakerIndex(name) >= 0
}
