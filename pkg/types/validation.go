package types

import (
	"encoding/json"
	"regexp"
)

// Regexes compiled once at package initialization for high-frequency
// validation paths.
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Validate ensures the message meets wire requirements. Addressing fields
// are optional; when present they must be well-formed.
func (m *Message) Validate() error {
	if len(m.Type) < 1 || len(m.Type) > 50 {
		return ErrInvalidMessageType
	}
	if !m.Priority.Valid() {
		return ErrInvalidPriority
	}
	if m.UserID != "" && !IsValidUserID(m.UserID) {
		return ErrInvalidUserID
	}
	if m.RoomID != "" && !IsValidRoomID(m.RoomID) {
		return ErrInvalidRoomID
	}

	// Size check requires marshaling, which adds overhead but ensures an
	// accurate byte count for the 64KB cap.
	data, err := json.Marshal(m.Data)
	if err != nil {
		return ErrInvalidData
	}
	if len(data) > 65536 {
		return ErrDataTooLarge
	}
	return nil
}

// Valid reports whether p is one of the four wire priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// IsValidUserID checks if a user ID meets format requirements. The 1-50
// character limit keeps ids displayable and index-friendly.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks if a room grouping key meets format requirements.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 50 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}
