package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/creditcheck/models"
	dErrors "brokerdesk/pkg/domain-errors"
)

func completed(score int, flags models.Flags) models.CreditCheckRequest {
	return models.CreditCheckRequest{ID: 1, Status: models.StatusCompleted, Score: &score, Flags: flags}
}

var nominal = decimal.NewFromInt(50000)

func TestTierForScore(t *testing.T) {
	cases := []struct {
		score int
		want  Tier
	}{
		{850, TierExcellent}, {750, TierExcellent},
		{749, TierGood}, {650, TierGood},
		{649, TierFair}, {550, TierFair},
		{549, TierPoor}, {450, TierPoor},
		{449, TierVeryPoor}, {1, TierVeryPoor},
		{0, TierUnrated},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TierForScore(tc.score), "score %d", tc.score)
	}
}

func TestAnalyzeCompleted(t *testing.T) {
	cases := []struct {
		name       string
		score      int
		flags      models.Flags
		level      Level
		rec        Recommendation
		conditions int
		limit      string
	}{
		{"excellent clean", 800, models.Flags{}, LevelLow, Approve, 0, "50000"},
		{"good with protest", 700, models.Flags{Protests: true}, LevelMedium, ApproveWithConditions, 1, "15000"},
		{"good with both flags", 700, models.Flags{Protests: true, AdverseFilings: true}, LevelHigh, ApproveWithConditions, 2, "5000"},
		{"fair clean", 600, models.Flags{}, LevelMedium, Approve, 0, "15000"},
		{"fair with filing", 600, models.Flags{AdverseFilings: true}, LevelHigh, ApproveWithConditions, 1, "5000"},
		{"poor clean", 500, models.Flags{}, LevelHigh, Approve, 0, "5000"},
		{"poor with protest stays high", 500, models.Flags{Protests: true}, LevelHigh, ApproveWithConditions, 1, "5000"},
		{"very poor clean", 400, models.Flags{}, LevelCritical, Reject, 0, "0"},
		{"very poor with protest", 400, models.Flags{Protests: true}, LevelCritical, Reject, 0, "0"},
		{"excellent with insolvency", 820, models.Flags{InsolvencyProceeding: true}, LevelCritical, Reject, 0, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Analyze(completed(tc.score, tc.flags), nominal)
			require.NoError(t, err)
			assert.Equal(t, tc.level, got.RiskLevel)
			assert.Equal(t, tc.rec, got.Recommendation)
			assert.Len(t, got.Conditions, tc.conditions)
			assert.True(t, decimal.RequireFromString(tc.limit).Equal(got.MaxRecommendedLimit),
				"limit %s, want %s", got.MaxRecommendedLimit, tc.limit)
		})
	}
}

func TestLimitsBelowCaps(t *testing.T) {
	small := decimal.NewFromInt(10000)
	assert.Equal(t, "7000", LimitFor(LevelMedium, small).String())
	assert.Equal(t, "3000", LimitFor(LevelHigh, small).String())
	assert.Equal(t, "10000", LimitFor(LevelLow, small).String())
	assert.True(t, LimitFor(LevelCritical, small).IsZero())
}

// A clean completion at 780 is low risk and approved.
func TestCleanCompletionIsApproved(t *testing.T) {
	got, err := Analyze(completed(780, models.Flags{}), nominal)
	require.NoError(t, err)
	assert.Equal(t, TierExcellent, got.Tier)
	assert.Equal(t, LevelLow, got.RiskLevel)
	assert.Equal(t, Approve, got.Recommendation)
}

// Insolvency at 500 is critical, rejected, zero limit for any nominal limit.
func TestInsolvencyRejectsAtAnyNominalLimit(t *testing.T) {
	for _, nom := range []int64{0, 1, 50000, 10_000_000} {
		got, err := Analyze(completed(500, models.Flags{InsolvencyProceeding: true}), decimal.NewFromInt(nom))
		require.NoError(t, err)
		assert.Equal(t, LevelCritical, got.RiskLevel)
		assert.Equal(t, Reject, got.Recommendation)
		assert.True(t, got.MaxRecommendedLimit.IsZero())
	}
}

func TestInsolvencyAlwaysRejects(t *testing.T) {
	for score := 1; score <= 1000; score += 7 {
		for _, f := range allFlagSets() {
			f.InsolvencyProceeding = true
			got, err := Analyze(completed(score, f), nominal)
			require.NoError(t, err)
			assert.Equal(t, Reject, got.Recommendation, "score %d flags %+v", score, f)
		}
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	req := completed(612, models.Flags{Protests: true, AdverseFilings: true})
	a, err := Analyze(req, decimal.RequireFromString("12345.67"))
	require.NoError(t, err)
	b, err := Analyze(req, decimal.RequireFromString("12345.67"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Adding any flag never lowers the risk level or relaxes the recommendation.
func TestEscalationIsMonotonic(t *testing.T) {
	for score := 1; score <= 900; score += 3 {
		for _, base := range allFlagSets() {
			before, err := Analyze(completed(score, base), nominal)
			require.NoError(t, err)
			for _, added := range withOneMoreFlag(base) {
				after, err := Analyze(completed(score, added), nominal)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, after.RiskLevel, before.RiskLevel, "score %d %+v -> %+v", score, base, added)
				assert.GreaterOrEqual(t, after.Recommendation, before.Recommendation, "score %d %+v -> %+v", score, base, added)
				assert.True(t, after.MaxRecommendedLimit.LessThanOrEqual(before.MaxRecommendedLimit))
			}
		}
	}
}

func TestAnalyzeFailed(t *testing.T) {
	got, err := Analyze(models.CreditCheckRequest{Status: models.StatusFailed, ErrorMessage: "bureau timeout"}, nominal)
	require.NoError(t, err)
	assert.Equal(t, TierUnrated, got.Tier)
	assert.Equal(t, LevelHigh, got.RiskLevel)
	assert.Equal(t, Review, got.Recommendation)
	assert.Equal(t, []string{ConditionResubmit}, got.Conditions)
}

func TestAnalyzeRejectsPendingAndNegativeLimit(t *testing.T) {
	_, err := Analyze(models.CreditCheckRequest{Status: models.StatusPending}, nominal)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = Analyze(completed(700, models.Flags{}), decimal.NewFromInt(-1))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestLevelAndRecommendationText(t *testing.T) {
	b, err := LevelCritical.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "critical", string(b))
	b, err = ApproveWithConditions.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "approve_with_conditions", string(b))
}

func allFlagSets() []models.Flags {
	var out []models.Flags
	for mask := range 8 {
		out = append(out, models.Flags{
			Protests:             mask&1 != 0,
			AdverseFilings:       mask&2 != 0,
			InsolvencyProceeding: mask&4 != 0,
		})
	}
	return out
}

func withOneMoreFlag(f models.Flags) []models.Flags {
	var out []models.Flags
	if !f.Protests {
		g := f
		g.Protests = true
		out = append(out, g)
	}
	if !f.AdverseFilings {
		g := f
		g.AdverseFilings = true
		out = append(out, g)
	}
	if !f.InsolvencyProceeding {
		g := f
		g.InsolvencyProceeding = true
		out = append(out, g)
	}
	return out
}
