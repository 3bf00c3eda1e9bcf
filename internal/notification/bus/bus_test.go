package bus

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

func sampleNotification(recipient id.UserID) models.Notification {
	return models.Notification{
		ID:          id.NewNotificationID(),
		RecipientID: recipient,
		Type:        models.TypeCreditCheckCompleted,
		Title:       "Credit check completed",
		Message:     "score 780",
		Link:        "/credit-checks/1",
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	recipient := id.UserID(uuid.New())
	n := sampleNotification(recipient)

	for _, ev := range []Event{
		Inserted{Notification: n},
		Updated{Notification: n},
		Deleted{ID: n.ID},
	} {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			b, err := Marshal(ev)
			require.NoError(t, err)
			got, err := Unmarshal(b)
			require.NoError(t, err)
			assert.Equal(t, ev.Kind(), got.Kind())
			assert.Equal(t, n.ID, got.NotificationID())
		})
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	n := sampleNotification(id.UserID(uuid.New()))
	b, err := Marshal(Deleted{ID: n.ID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"delete","id":"`+n.ID.String()+`"}`, string(b))
}

func TestUnmarshalRejectsBadEnvelopes(t *testing.T) {
	n := sampleNotification(id.UserID(uuid.New()))
	other := id.NewNotificationID()
	cases := map[string]Envelope{
		"insert without payload": {Kind: KindInsert, ID: n.ID},
		"mismatched id":          {Kind: KindUpdate, ID: other, Notification: &n},
		"delete without id":      {Kind: KindDelete},
		"unknown kind":           {Kind: "upsert", ID: n.ID},
	}
	for name, env := range cases {
		_, err := env.Event()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest), name)
	}
	_, err := Unmarshal([]byte("{"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestHandlersDispatch(t *testing.T) {
	n := sampleNotification(id.UserID(uuid.New()))
	var got []string
	h := Handlers{
		OnInsert: func(models.Notification) { got = append(got, "insert") },
		OnDelete: func(id.NotificationID) { got = append(got, "delete") },
	}
	h.Dispatch(Inserted{Notification: n})
	h.Dispatch(Updated{Notification: n})
	h.Dispatch(Deleted{ID: n.ID})
	assert.Equal(t, []string{"insert", "delete"}, got, "nil callbacks are skipped")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	calls := 0
	sub := NewSubscription(id.UserID(uuid.New()), func() { calls++ })
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, calls)

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Unsubscribe)
	assert.True(t, nilSub.Recipient().IsNil())
}
