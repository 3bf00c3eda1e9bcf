package kafka

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/creditcheck/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

func TestEncodeRequest(t *testing.T) {
	req := models.CreditCheckRequest{
		ID:          12,
		ClientID:    id.ClientID(uuid.New()),
		ProfileID:   id.ProfileID(uuid.New()),
		BrokerID:    id.UserID(uuid.New()),
		RequestedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	key, value, err := encodeRequest(req)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(12), string(key), "keyed by request id so retries land on one partition")

	var msg RequestMessage
	require.NoError(t, json.Unmarshal(value, &msg))
	assert.Equal(t, req.ID, msg.CreditCheckID)
	assert.Equal(t, req.ClientID, msg.ClientID)
	assert.Equal(t, req.BrokerID, msg.BrokerID)
	assert.True(t, req.RequestedAt.Equal(msg.RequestedAt))
}

func TestDecodeResult(t *testing.T) {
	t.Run("completed result with records", func(t *testing.T) {
		score := 610
		b, err := EncodeResult(5, models.Outcome{
			Status:  models.StatusCompleted,
			Score:   &score,
			Records: []models.AdverseRecord{{Kind: models.RecordProtest, Creditor: "ACME Leasing", AmountCents: 120000}},
		})
		require.NoError(t, err)

		checkID, outcome, err := DecodeResult(b)
		require.NoError(t, err)
		assert.Equal(t, int64(5), checkID)
		assert.Equal(t, models.StatusCompleted, outcome.Status)
		assert.Equal(t, 610, *outcome.Score)
		assert.Len(t, outcome.Records, 1)
		assert.Equal(t, ProviderID, outcome.Provider, "missing provider defaults to the adapter id")
	})

	t.Run("keeps reported provider", func(t *testing.T) {
		_, outcome, err := DecodeResult([]byte(`{"credit_check_id":1,"status":"failed","provider":"bureau-x","error_message":"subject unknown"}`))
		require.NoError(t, err)
		assert.Equal(t, "bureau-x", outcome.Provider)
		assert.Equal(t, "subject unknown", outcome.ErrorMessage)
	})

	t.Run("rejects malformed messages", func(t *testing.T) {
		cases := map[string]string{
			"not json":       `{`,
			"missing id":     `{"status":"completed","score":700}`,
			"unknown status": `{"credit_check_id":3,"status":"lost"}`,
		}
		for name, raw := range cases {
			_, _, err := DecodeResult([]byte(raw))
			require.Error(t, err, name)
			assert.NotEqual(t, dErrors.CodeInternal, dErrors.CodeOf(err), name)
		}
	})
}
