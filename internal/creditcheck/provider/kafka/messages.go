package kafka

import (
	"encoding/json"
	"strconv"
	"time"

	"brokerdesk/internal/creditcheck/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

// RequestMessage is produced to the request topic for the bureau to pick up.
type RequestMessage struct {
	CreditCheckID int64        `json:"credit_check_id"`
	ClientID      id.ClientID  `json:"client_id"`
	ProfileID     id.ProfileID `json:"profile_id"`
	BrokerID      id.UserID    `json:"broker_id"`
	RequestedAt   time.Time    `json:"requested_at"`
}

// ResultMessage is consumed from the result topic. Delivery is at least once
// and may be reordered across requests.
type ResultMessage struct {
	CreditCheckID int64                  `json:"credit_check_id"`
	Status        models.Status          `json:"status"`
	Score         *int                   `json:"score,omitempty"`
	Records       []models.AdverseRecord `json:"records,omitempty"`
	Provider      string                 `json:"provider,omitempty"`
	RawResponse   json.RawMessage        `json:"raw_response,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

func encodeRequest(req models.CreditCheckRequest) (key, value []byte, err error) {
	value, err = json.Marshal(RequestMessage{
		CreditCheckID: req.ID,
		ClientID:      req.ClientID,
		ProfileID:     req.ProfileID,
		BrokerID:      req.BrokerID,
		RequestedAt:   req.RequestedAt,
	})
	if err != nil {
		return nil, nil, err
	}
	return []byte(strconv.FormatInt(req.ID, 10)), value, nil
}

// DecodeResult parses a result record into the request id and outcome.
func DecodeResult(b []byte) (int64, models.Outcome, error) {
	var msg ResultMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return 0, models.Outcome{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed result message")
	}
	if msg.CreditCheckID <= 0 {
		return 0, models.Outcome{}, dErrors.New(dErrors.CodeBadRequest, "result message has no credit_check_id")
	}
	if _, err := models.ParseStatus(string(msg.Status)); err != nil {
		return 0, models.Outcome{}, err
	}
	provider := msg.Provider
	if provider == "" {
		provider = ProviderID
	}
	return msg.CreditCheckID, models.Outcome{
		Status:       msg.Status,
		Score:        msg.Score,
		Records:      msg.Records,
		Provider:     provider,
		RawResponse:  msg.RawResponse,
		ErrorMessage: msg.ErrorMessage,
	}, nil
}

// EncodeResult renders a result record; bureaus and tests use it.
func EncodeResult(checkID int64, o models.Outcome) ([]byte, error) {
	return json.Marshal(ResultMessage{
		CreditCheckID: checkID,
		Status:        o.Status,
		Score:         o.Score,
		Records:       o.Records,
		Provider:      o.Provider,
		RawResponse:   o.RawResponse,
		ErrorMessage:  o.ErrorMessage,
	})
}
