package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "brokerdesk/pkg/domain-errors"
)

// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects whitespace only", func(t *testing.T) {
		_, err := ParseClientID("   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseUserID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseProfileID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects oversized input", func(t *testing.T) {
		_, err := ParseNotificationID(strings.Repeat("a", 1000))
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseUserID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(validUUID), id)
		assert.Equal(t, validUUID.String(), id.String())
		assert.False(t, id.IsNil())
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseClientID("  " + validUUID.String() + "\n")
		require.NoError(t, err)
		assert.Equal(t, ClientID(validUUID), id)
	})
}

func TestTypeDistinction(t *testing.T) {
	userID := UserID(uuid.New())
	clientID := ClientID(uuid.New())

	// var _ UserID = clientID would not compile.
	assert.NotEqual(t, uuid.UUID(userID), uuid.UUID(clientID))
	assert.True(t, UserID{}.IsNil())
	assert.False(t, NewNotificationID().IsNil())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("broker")
	require.NoError(t, err)
	assert.Equal(t, RoleBroker, r)

	_, err = ParseRole("superuser")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestIDsMarshalAsStrings(t *testing.T) {
	raw := uuid.New()
	payload := struct {
		User UserID         `json:"user"`
		Note NotificationID `json:"note"`
	}{UserID(raw), NotificationID(raw)}

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":"`+raw.String()+`","note":"`+raw.String()+`"}`, string(b))

	var back struct {
		User UserID         `json:"user"`
		Note NotificationID `json:"note"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, payload.User, back.User)
	assert.Equal(t, payload.Note, back.Note)

	err = json.Unmarshal([]byte(`{"user":"nope"}`), &back)
	require.Error(t, err)
}
