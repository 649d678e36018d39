package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(TypeChat, map[string]interface{}{"text": "hello"})

	require.NotNil(t, msg)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, TypeChat, msg.Type)
	assert.Equal(t, PriorityNormal, msg.Priority)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "hello", msg.Data["text"])
}

func TestNewMessage_NilData(t *testing.T) {
	msg := NewMessage(TypeChat, nil)
	require.NotNil(t, msg.Data)
	assert.NoError(t, msg.WithRoom("room-1").Validate())
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a := NewMessage(TypeChat, nil)
	b := NewMessage(TypeChat, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestMessage_WithHelpersDoNotMutate(t *testing.T) {
	base := NewMessage(TypeChat, map[string]interface{}{"text": "hi"})

	addressed := base.WithRoom("room-1").WithUser("alice").WithPriority(PriorityHigh)

	assert.Empty(t, base.RoomID)
	assert.Empty(t, base.UserID)
	assert.Equal(t, PriorityNormal, base.Priority)

	assert.Equal(t, "room-1", addressed.RoomID)
	assert.Equal(t, "alice", addressed.UserID)
	assert.Equal(t, PriorityHigh, addressed.Priority)
	assert.Equal(t, base.ID, addressed.ID)
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		wantErr error
	}{
		{
			name: "valid chat message",
			msg:  NewMessage(TypeChat, map[string]interface{}{"text": "hi"}).WithRoom("room-1").WithUser("alice"),
		},
		{
			name:    "empty type",
			msg:     NewMessage("", nil),
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "oversized type",
			msg:     NewMessage(strings.Repeat("x", 51), nil),
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "bad priority",
			msg:     NewMessage(TypeChat, nil).WithPriority(Priority("urgent")),
			wantErr: ErrInvalidPriority,
		},
		{
			name:    "bad user id characters",
			msg:     NewMessage(TypeChat, nil).WithUser("no spaces allowed"),
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "bad room id characters",
			msg:     NewMessage(TypeChat, nil).WithRoom("room/../etc"),
			wantErr: ErrInvalidRoomID,
		},
		{
			name: "oversized data",
			msg: NewMessage(TypeChat, map[string]interface{}{
				"blob": strings.Repeat("a", 70000),
			}),
			wantErr: ErrDataTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestPriorityFromSeverity(t *testing.T) {
	assert.Equal(t, PriorityCritical, PriorityFromSeverity("critical"))
	assert.Equal(t, PriorityHigh, PriorityFromSeverity("high"))
	assert.Equal(t, PriorityNormal, PriorityFromSeverity("medium"))
	assert.Equal(t, PriorityNormal, PriorityFromSeverity(""))
	assert.Equal(t, PriorityNormal, PriorityFromSeverity("bogus"))
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("alice_01"))
	assert.True(t, IsValidUserID("user-123"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("user with spaces"))
	assert.False(t, IsValidUserID(strings.Repeat("a", 51)))
}

func TestIsValidRoomID(t *testing.T) {
	assert.True(t, IsValidRoomID("lobby"))
	assert.True(t, IsValidRoomID("org-42_general"))
	assert.False(t, IsValidRoomID(""))
	assert.False(t, IsValidRoomID("room!"))
}
