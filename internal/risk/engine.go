// Package risk classifies terminal credit checks.
//
// Analyze is pure domain logic: no I/O, no clock, no randomness. The same
// request and nominal limit always yield an identical Classification, so
// callers compute it on demand and never persist it.
package risk

import (
	"github.com/shopspring/decimal"

	"brokerdesk/internal/creditcheck/models"
	dErrors "brokerdesk/pkg/domain-errors"
)

// Tier buckets a bureau score.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
	TierVeryPoor  Tier = "very_poor"
	// TierUnrated is used when no usable score exists (failed checks).
	TierUnrated Tier = "unrated"
)

// Level is the ordered risk level. Higher values are riskier.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "critical"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Recommendation is the ordered approval advice. Higher values are stricter.
type Recommendation int

const (
	Approve Recommendation = iota
	ApproveWithConditions
	Review
	Reject
)

func (r Recommendation) String() string {
	switch r {
	case Approve:
		return "approve"
	case ApproveWithConditions:
		return "approve_with_conditions"
	case Review:
		return "review"
	default:
		return "reject"
	}
}

func (r Recommendation) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Classification is the derived judgement for one terminal credit check.
type Classification struct {
	Tier                Tier            `json:"tier"`
	RiskLevel           Level           `json:"risk_level"`
	Recommendation      Recommendation  `json:"recommendation"`
	Conditions          []string        `json:"conditions"`
	MaxRecommendedLimit decimal.Decimal `json:"max_recommended_limit"`
}

const (
	thresholdExcellent = 750
	thresholdGood      = 650
	thresholdFair      = 550
	thresholdPoor      = 450

	ConditionProtest  = "resolve or explain protested obligations before funding"
	ConditionAdverse  = "obtain documentation for adverse filings on record"
	ConditionResubmit = "credit check failed; resubmit before deciding"
)

var (
	highFactor   = decimal.RequireFromString("0.3")
	highCap      = decimal.NewFromInt(5000)
	mediumFactor = decimal.RequireFromString("0.7")
	mediumCap    = decimal.NewFromInt(15000)
)

// TierForScore maps a score to its tier. Non-positive scores are unrated.
func TierForScore(score int) Tier {
	switch {
	case score <= 0:
		return TierUnrated
	case score >= thresholdExcellent:
		return TierExcellent
	case score >= thresholdGood:
		return TierGood
	case score >= thresholdFair:
		return TierFair
	case score >= thresholdPoor:
		return TierPoor
	default:
		return TierVeryPoor
	}
}

func baseline(t Tier) Level {
	switch t {
	case TierExcellent, TierGood:
		return LevelLow
	case TierFair:
		return LevelMedium
	case TierPoor, TierUnrated:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// escalate moves Low→Medium→High; High and Critical are unaffected.
func escalate(l Level) Level {
	if l < LevelHigh {
		return l + 1
	}
	return l
}

// tighten never relaxes a recommendation.
func tighten(current, next Recommendation) Recommendation {
	if next > current {
		return next
	}
	return current
}

// LimitFor caps nominal exposure by risk level.
func LimitFor(level Level, nominal decimal.Decimal) decimal.Decimal {
	switch level {
	case LevelLow:
		return nominal
	case LevelMedium:
		return decimal.Min(nominal.Mul(mediumFactor), mediumCap)
	case LevelHigh:
		return decimal.Min(nominal.Mul(highFactor), highCap)
	default:
		return decimal.Zero
	}
}

// Analyze classifies a terminal credit check against a nominal credit limit.
// Pending checks return CodeInvalidState; a negative limit is CodeValidation.
func Analyze(req models.CreditCheckRequest, nominalLimit decimal.Decimal) (Classification, error) {
	if nominalLimit.IsNegative() {
		return Classification{}, dErrors.New(dErrors.CodeValidation, "nominal_limit must not be negative")
	}

	switch req.Status {
	case models.StatusCompleted:
		if req.Score == nil {
			return Classification{}, dErrors.New(dErrors.CodeInvariantViolation, "completed credit check has no score")
		}
		return classifyCompleted(*req.Score, req.Flags, nominalLimit), nil
	case models.StatusFailed:
		return classifyFailed(nominalLimit), nil
	default:
		return Classification{}, dErrors.New(dErrors.CodeInvalidState, "credit check is still pending")
	}
}

func classifyCompleted(score int, flags models.Flags, nominal decimal.Decimal) Classification {
	tier := TierForScore(score)
	level := baseline(tier)
	rec := Approve
	if tier == TierUnrated {
		rec = Review
	}
	conditions := []string{}

	// Rule 1: protests and adverse filings escalate independently.
	applyFlag := func(present bool, condition string) {
		if !present {
			return
		}
		level = escalate(level)
		if level == LevelMedium || level == LevelHigh {
			rec = tighten(rec, ApproveWithConditions)
			conditions = append(conditions, condition)
		}
	}
	applyFlag(flags.Protests, ConditionProtest)
	applyFlag(flags.AdverseFilings, ConditionAdverse)

	// Rule 2: a very poor score alone is critical and rejected.
	if tier == TierVeryPoor {
		rec = tighten(rec, Reject)
	}

	// Rule 3: insolvency overrides everything.
	if flags.InsolvencyProceeding {
		level = LevelCritical
		rec = tighten(rec, Reject)
	}

	return Classification{
		Tier:                tier,
		RiskLevel:           level,
		Recommendation:      rec,
		Conditions:          conditions,
		MaxRecommendedLimit: LimitFor(level, nominal),
	}
}

func classifyFailed(nominal decimal.Decimal) Classification {
	return Classification{
		Tier:                TierUnrated,
		RiskLevel:           LevelHigh,
		Recommendation:      Review,
		Conditions:          []string{ConditionResubmit},
		MaxRecommendedLimit: LimitFor(LevelHigh, nominal),
	}
}
