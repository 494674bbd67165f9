package relationship

import "strings"

// Persisted key layout. These names are shared with the browser client's
// local-storage dumps and must not change.
const (
	KeyMatches         = "userMatches"
	KeyPreferences     = "userPreferences"
	KeyCurrentChatUser = "currentChatUser"

	TranscriptPrefix = "chat_"
	RealChatPrefix   = "real_chat_"

	realChatValue = "true"
)

// TranscriptKey returns the key holding the transcript for counterpartID.
func TranscriptKey(counterpartID string) string { return TranscriptPrefix + counterpartID }

// RealChatKey returns the key holding the real-chat flag for counterpartID.
func RealChatKey(counterpartID string) string { return RealChatPrefix + counterpartID }

// counterpartFromKey strips prefix from key. ok is false when key does not
// carry the prefix or names no counterpart.
func counterpartFromKey(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, prefix)
	return id, id != ""
}
