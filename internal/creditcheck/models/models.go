package models

import (
	"encoding/json"
	"time"

	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

// Status is the lifecycle position of a credit check.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces Pending → Completed | Failed and nothing else.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next.IsTerminal()
}

// ParseStatus validates a status filter value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown status: "+s)
	}
	return st, nil
}

// RecordKind is the kind of adverse entry a provider can report.
type RecordKind string

const (
	RecordProtest              RecordKind = "protest"
	RecordAdverseFiling        RecordKind = "adverse_filing"
	RecordInsolvencyProceeding RecordKind = "insolvency_proceeding"
)

// AdverseRecord is one entry from the provider's report backing a flag.
type AdverseRecord struct {
	Kind        RecordKind `json:"kind"`
	Description string     `json:"description"`
	Creditor    string     `json:"creditor,omitempty"`
	AmountCents int64      `json:"amount_cents,omitempty"`
	RecordedOn  time.Time  `json:"recorded_on"`
}

// Flags summarise the adverse records of a completed check.
type Flags struct {
	Protests             bool `json:"protests"`
	AdverseFilings       bool `json:"adverse_filings"`
	InsolvencyProceeding bool `json:"insolvency_proceeding"`
}

// FlagsFromRecords sets a flag for every record kind present.
func FlagsFromRecords(records []AdverseRecord) Flags {
	var f Flags
	for _, r := range records {
		switch r.Kind {
		case RecordProtest:
			f.Protests = true
		case RecordAdverseFiling:
			f.AdverseFilings = true
		case RecordInsolvencyProceeding:
			f.InsolvencyProceeding = true
		}
	}
	return f
}

// Outcome is what a provider reports for one request.
type Outcome struct {
	Status       Status
	Score        *int
	Records      []AdverseRecord
	Provider     string
	RawResponse  json.RawMessage
	ErrorMessage string
}

// Validate checks that a terminal outcome carries the fields its status requires.
func (o Outcome) Validate() error {
	switch o.Status {
	case StatusPending:
		return nil
	case StatusCompleted:
		if o.Score == nil {
			return dErrors.New(dErrors.CodeValidation, "completed outcome requires a score")
		}
		if *o.Score < 0 || *o.Score > 1000 {
			return dErrors.New(dErrors.CodeValidation, "score out of range")
		}
		return nil
	case StatusFailed:
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown outcome status: "+string(o.Status))
	}
}

// CreditCheckRequest is one invocation of the external verification workflow
// for a client.
//
// Invariants:
//   - CompletedAt is set iff Status is terminal
//   - Score is set iff Status is completed
//   - ErrorMessage is non-empty iff Status is failed
//   - once terminal, no field changes
type CreditCheckRequest struct {
	ID           int64           `json:"id"`
	ClientID     id.ClientID     `json:"client_id"`
	BrokerID     id.UserID       `json:"broker_id"`
	ProfileID    id.ProfileID    `json:"profile_id"`
	Status       Status          `json:"status"`
	RequestedAt  time.Time       `json:"requested_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Score        *int            `json:"score,omitempty"`
	Flags        Flags           `json:"flags"`
	Records      []AdverseRecord `json:"records,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewCreditCheckRequest builds a pending request. The store assigns ID.
func NewCreditCheckRequest(clientID id.ClientID, brokerID id.UserID, profileID id.ProfileID, now time.Time) (*CreditCheckRequest, error) {
	if clientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "client_id is required")
	}
	if brokerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "broker_id is required")
	}
	if profileID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "profile_id is required")
	}
	return &CreditCheckRequest{
		ClientID:    clientID,
		BrokerID:    brokerID,
		ProfileID:   profileID,
		Status:      StatusPending,
		RequestedAt: now,
	}, nil
}

// OwnedBy reports whether broker submitted this request.
func (r *CreditCheckRequest) OwnedBy(broker id.UserID) bool {
	return r.BrokerID == broker
}

// DefaultFailureMessage is recorded when a provider fails without a reason.
const DefaultFailureMessage = "provider reported failure"

// Apply performs the single terminal transition. It returns CodeConflict when
// the request already left pending and CodeInvalidState for a pending outcome.
func (r *CreditCheckRequest) Apply(o Outcome, now time.Time) error {
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeConflict, "credit check already terminal")
	}
	if !r.Status.CanTransitionTo(o.Status) {
		return dErrors.New(dErrors.CodeInvalidState, "outcome is not terminal")
	}
	if err := o.Validate(); err != nil {
		return err
	}

	completedAt := now
	r.Status = o.Status
	r.CompletedAt = &completedAt
	r.Provider = o.Provider
	r.RawResponse = o.RawResponse

	switch o.Status {
	case StatusCompleted:
		score := *o.Score
		r.Score = &score
		r.Records = append([]AdverseRecord(nil), o.Records...)
		r.Flags = FlagsFromRecords(o.Records)
		r.ErrorMessage = ""
	case StatusFailed:
		r.Score = nil
		r.Records = nil
		r.Flags = Flags{}
		r.ErrorMessage = o.ErrorMessage
		if r.ErrorMessage == "" {
			r.ErrorMessage = DefaultFailureMessage
		}
	}
	return nil
}

// Clone returns a deep copy so stores never hand out shared state.
func (r *CreditCheckRequest) Clone() *CreditCheckRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Score != nil {
		s := *r.Score
		c.Score = &s
	}
	if r.Records != nil {
		c.Records = append([]AdverseRecord(nil), r.Records...)
	}
	if r.RawResponse != nil {
		c.RawResponse = append(json.RawMessage(nil), r.RawResponse...)
	}
	return &c
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilter narrows a broker's credit checks. Empty Statuses means all.
type ListFilter struct {
	Statuses []Status
	ClientID *id.ClientID
	Limit    int
	Offset   int
}

// Normalize clamps pagination to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether r passes the status and client filters.
func (f ListFilter) Matches(r *CreditCheckRequest) bool {
	if f.ClientID != nil && r.ClientID != *f.ClientID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}
