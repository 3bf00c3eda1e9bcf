// Package simulator is a stand-in credit bureau. It answers every request
// after a short random delay with a fixed outcome distribution:
//
//	80% completed (30% clean with a high score, 70% flagged with 1-3 adverse records)
//	15% pending, left for a later callback that never comes
//	 5% failed with a synthetic reason
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"brokerdesk/internal/creditcheck/models"
)

// ProviderID is recorded on every outcome the simulator produces.
const ProviderID = "simulator"

const (
	completedPct = 80
	pendingPct   = 15
	cleanPct     = 30

	cleanScoreMin   = 700
	cleanScoreMax   = 850
	flaggedScoreMin = 300
	flaggedScoreMax = 649
	maxRecords      = 3
)

var recordKinds = []models.RecordKind{
	models.RecordProtest,
	models.RecordAdverseFiling,
	models.RecordInsolvencyProceeding,
}

var descriptions = map[models.RecordKind][]string{
	models.RecordProtest:              {"protested promissory note", "protested trade bill", "dishonoured cheque"},
	models.RecordAdverseFiling:        {"civil judgment", "tax lien", "collection filing"},
	models.RecordInsolvencyProceeding: {"insolvency petition filed", "administration order", "voluntary arrangement"},
}

var creditors = []string{"Northwind Factoring", "Contoso Leasing", "Fabrikam Supply", "Tailspin Bank", "Municipal Tax Office"}

var failureReasons = []string{
	"bureau timeout",
	"subject could not be matched",
	"malformed bureau response",
	"bureau temporarily unavailable",
}

// Simulator implements provider.Provider.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	minDelay time.Duration
	maxDelay time.Duration
	now      func() time.Time
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithDelay bounds the simulated provider latency.
func WithDelay(minDelay, maxDelay time.Duration) Option {
	return func(s *Simulator) {
		s.minDelay = minDelay
		s.maxDelay = maxDelay
	}
}

// WithSeed makes draws reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides the time source used for record dates.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

func New(opts ...Option) *Simulator {
	seed := uint64(time.Now().UnixNano())
	s := &Simulator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		minDelay: 200 * time.Millisecond,
		maxDelay: 800 * time.Millisecond,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	return s
}

func (s *Simulator) ID() string { return ProviderID }

func (s *Simulator) Health(context.Context) error { return nil }

// Resolve waits for the simulated latency, then returns a drawn outcome.
// Cancelling ctx during the wait returns ctx.Err() and no outcome.
func (s *Simulator) Resolve(ctx context.Context, req models.CreditCheckRequest) (models.Outcome, error) {
	s.mu.Lock()
	delay := s.drawDelay()
	outcome := s.drawOutcome(req)
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return models.Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}
	return outcome, nil
}

func (s *Simulator) drawDelay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rng.Int64N(int64(span)+1))
}

func (s *Simulator) drawOutcome(req models.CreditCheckRequest) models.Outcome {
	roll := s.rng.IntN(100)
	switch {
	case roll < completedPct:
		return s.drawCompleted(req)
	case roll < completedPct+pendingPct:
		return models.Outcome{Status: models.StatusPending, Provider: ProviderID}
	default:
		reason := failureReasons[s.rng.IntN(len(failureReasons))]
		return models.Outcome{
			Status:       models.StatusFailed,
			Provider:     ProviderID,
			ErrorMessage: reason,
			RawResponse:  s.rawResponse(req, "failed", nil, 0),
		}
	}
}

func (s *Simulator) drawCompleted(req models.CreditCheckRequest) models.Outcome {
	var score int
	var records []models.AdverseRecord

	if s.rng.IntN(100) < cleanPct {
		score = cleanScoreMin + s.rng.IntN(cleanScoreMax-cleanScoreMin+1)
	} else {
		score = flaggedScoreMin + s.rng.IntN(flaggedScoreMax-flaggedScoreMin+1)
		n := 1 + s.rng.IntN(maxRecords)
		records = make([]models.AdverseRecord, 0, n)
		for range n {
			records = append(records, s.drawRecord())
		}
	}

	return models.Outcome{
		Status:      models.StatusCompleted,
		Score:       &score,
		Records:     records,
		Provider:    ProviderID,
		RawResponse: s.rawResponse(req, "completed", &score, len(records)),
	}
}

func (s *Simulator) drawRecord() models.AdverseRecord {
	kind := recordKinds[s.rng.IntN(len(recordKinds))]
	options := descriptions[kind]
	daysAgo := 30 + s.rng.IntN(5*365)
	return models.AdverseRecord{
		Kind:        kind,
		Description: options[s.rng.IntN(len(options))],
		Creditor:    creditors[s.rng.IntN(len(creditors))],
		AmountCents: int64(50_000 + s.rng.IntN(5_000_000)),
		RecordedOn:  s.now().UTC().AddDate(0, 0, -daysAgo).Truncate(24 * time.Hour),
	}
}

type rawReport struct {
	Reference   string `json:"reference"`
	RequestID   int64  `json:"request_id"`
	Status      string `json:"status"`
	Score       *int   `json:"score,omitempty"`
	RecordCount int    `json:"record_count"`
}

func (s *Simulator) rawResponse(req models.CreditCheckRequest, status string, score *int, records int) json.RawMessage {
	b, err := json.Marshal(rawReport{
		Reference:   fmt.Sprintf("SIM-%08X", s.rng.Uint32()),
		RequestID:   req.ID,
		Status:      status,
		Score:       score,
		RecordCount: records,
	})
	if err != nil {
		return nil
	}
	return b
}
