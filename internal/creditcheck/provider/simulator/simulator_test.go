package simulator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/creditcheck/models"
)

func TestDistribution(t *testing.T) {
	sim := New(WithSeed(7), WithDelay(0, 0))
	const draws = 20000

	counts := map[models.Status]int{}
	clean, flagged := 0, 0
	for i := range draws {
		out, err := sim.Resolve(context.Background(), models.CreditCheckRequest{ID: int64(i)})
		require.NoError(t, err)
		counts[out.Status]++

		assert.Equal(t, ProviderID, out.Provider)
		switch out.Status {
		case models.StatusCompleted:
			require.NotNil(t, out.Score)
			require.NoError(t, out.Validate())
			if len(out.Records) == 0 {
				clean++
				assert.GreaterOrEqual(t, *out.Score, cleanScoreMin)
				assert.LessOrEqual(t, *out.Score, cleanScoreMax)
			} else {
				flagged++
				assert.GreaterOrEqual(t, *out.Score, flaggedScoreMin)
				assert.LessOrEqual(t, *out.Score, flaggedScoreMax)
				assert.LessOrEqual(t, len(out.Records), maxRecords)
				flags := models.FlagsFromRecords(out.Records)
				assert.True(t, flags.Protests || flags.AdverseFilings || flags.InsolvencyProceeding)
			}
		case models.StatusFailed:
			assert.NotEmpty(t, out.ErrorMessage)
			assert.Nil(t, out.Score)
		case models.StatusPending:
			assert.Nil(t, out.Score)
		}
	}

	pct := func(n int) float64 { return float64(n) * 100 / draws }
	assert.InDelta(t, 80, pct(counts[models.StatusCompleted]), 1.5)
	assert.InDelta(t, 15, pct(counts[models.StatusPending]), 1.5)
	assert.InDelta(t, 5, pct(counts[models.StatusFailed]), 1.0)
	assert.InDelta(t, 30, float64(clean)*100/float64(clean+flagged), 2.0)
}

func TestSameSeedSameOutcomes(t *testing.T) {
	a := New(WithSeed(99), WithDelay(0, 0))
	b := New(WithSeed(99), WithDelay(0, 0))
	fixed := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	WithClock(fixed)(a)
	WithClock(fixed)(b)

	for i := range 50 {
		req := models.CreditCheckRequest{ID: int64(i)}
		oa, err := a.Resolve(context.Background(), req)
		require.NoError(t, err)
		ob, err := b.Resolve(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, oa, ob)
	}
}

func TestRawResponseIsJSON(t *testing.T) {
	sim := New(WithSeed(3), WithDelay(0, 0))
	for i := range 100 {
		out, err := sim.Resolve(context.Background(), models.CreditCheckRequest{ID: int64(i)})
		require.NoError(t, err)
		if out.Status == models.StatusPending {
			continue
		}
		var report map[string]any
		require.NoError(t, json.Unmarshal(out.RawResponse, &report))
		assert.Equal(t, float64(i), report["request_id"])
	}
}

func TestResolveHonoursCancellation(t *testing.T) {
	sim := New(WithSeed(1), WithDelay(time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Resolve(ctx, models.CreditCheckRequest{ID: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayWithinBounds(t *testing.T) {
	sim := New(WithSeed(5), WithDelay(5*time.Millisecond, 15*time.Millisecond))
	for range 200 {
		d := sim.drawDelay()
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}
