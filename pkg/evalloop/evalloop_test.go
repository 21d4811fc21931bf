package evalloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

type fakePredStore struct {
	pending  []persistence.PredictionRecord
	updates  map[int64][3]float64 // id -> {actual, mape, absErr}
}

func (f *fakePredStore) InsertPredictions(ctx context.Context, records []persistence.PredictionRecord) error {
	return nil
}

func (f *fakePredStore) PendingEvaluations(ctx context.Context, asOf time.Time) ([]persistence.PredictionRecord, error) {
	return f.pending, nil
}

func (f *fakePredStore) UpdateEvaluation(ctx context.Context, id int64, actual, mape, absErr float64) error {
	if f.updates == nil {
		f.updates = make(map[int64][3]float64)
	}
	f.updates[id] = [3]float64{actual, mape, absErr}
	return nil
}

func (f *fakePredStore) RecentEvaluated(ctx context.Context, n int) ([]persistence.PredictionRecord, error) {
	return nil, nil
}

type fakeRateStore struct {
	rates []persistence.TokenRate
}

func (f *fakeRateStore) Insert(ctx context.Context, rates []persistence.TokenRate) error { return nil }

func (f *fakeRateStore) RatesInRange(ctx context.Context, r persistence.RateRange, base, quote tokenaccount.Account) ([]persistence.TokenRate, error) {
	var out []persistence.TokenRate
	for _, rt := range f.rates {
		if rt.Base == base && rt.Quote == quote && !rt.At.Before(r.From) && !rt.At.After(r.To) {
			out = append(out, rt)
		}
	}
	return out, nil
}

// TestRun_RecordsMAPE mirrors spec.md §8 scenario 6: predicted=110,
// realized=100 within tolerance, expected absolute_error=10, mape=10.0.
func TestRun_RecordsMAPE(t *testing.T) {
	tok := tokenaccount.MustParse("token.near")
	quote := tokenaccount.MustParse("wrap.near")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	target := t0.Add(24 * time.Hour)

	predStore := &fakePredStore{pending: []persistence.PredictionRecord{{
		ID:             7,
		Base:           tok,
		Quote:          quote,
		PredictedValue: 110,
		PredictedAt:    t0,
		TargetAt:       target,
	}}}
	rateStore := &fakeRateStore{rates: []persistence.TokenRate{{
		Base: tok, Quote: quote, Rate: 100, At: target.Add(5 * time.Minute),
	}}}

	e := New(Config{ToleranceWindow: 30 * time.Minute}, predStore, rateStore)
	e.Run(context.Background())

	got, ok := predStore.updates[7]
	require.True(t, ok)
	assert.Equal(t, 100.0, got[0])
	assert.InDelta(t, 10.0, got[1], 1e-9)
	assert.Equal(t, 10.0, got[2])
}

func TestRollingMAPE_NotEnoughSamples(t *testing.T) {
	e := New(Config{MinSamples: 3}, &fakePredStore{}, &fakeRateStore{})
	e.record(5)
	e.record(7)
	_, ok := e.RollingMAPE()
	assert.False(t, ok)
}

func TestRollingMAPE_AveragesAndCapsWindow(t *testing.T) {
	e := New(Config{MinSamples: 1, AccuracyWindow: 2}, &fakePredStore{}, &fakeRateStore{})
	e.record(10)
	e.record(20)
	e.record(30) // evicts 10
	mean, ok := e.RollingMAPE()
	assert.True(t, ok)
	assert.InDelta(t, 25.0, mean, 1e-9)
	assert.Equal(t, 2, e.SampleCount())
}

func TestRun_OutOfToleranceSkipsEvaluation(t *testing.T) {
	tok := tokenaccount.MustParse("token.near")
	quote := tokenaccount.MustParse("wrap.near")
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	predStore := &fakePredStore{pending: []persistence.PredictionRecord{{
		ID: 1, Base: tok, Quote: quote, PredictedValue: 110, TargetAt: target,
	}}}
	rateStore := &fakeRateStore{rates: []persistence.TokenRate{{
		Base: tok, Quote: quote, Rate: 100, At: target.Add(2 * time.Hour),
	}}}

	e := New(Config{ToleranceWindow: 30 * time.Minute}, predStore, rateStore)
	e.Run(context.Background())

	_, ok := predStore.updates[1]
	assert.False(t, ok)
}
