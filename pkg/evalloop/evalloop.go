// Package evalloop implements the prediction-accuracy evaluation described
// in spec.md §4.8 step 7 as a standalone component, grounded on
// original_source/backend/src/trade/prediction_accuracy.rs: for every
// prediction whose target time has passed, fetch the realized rate within a
// tolerance window and compute its absolute and percentage error, then fold
// the result into a rolling-MAPE window of the most recently evaluated
// predictions (spec.md §6's PREDICTION_EVAL_ACCURACY_WINDOW /
// _MIN_SAMPLES knobs).
package evalloop

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ref-trader/reftrader/pkg/persistence"
)

const (
	defaultTolerance     = 30 * time.Minute
	defaultAccuracyWindow = 10
	defaultMinSamples     = 3
)

// Config holds the operator-tunable knobs from spec.md §6.
type Config struct {
	// ToleranceWindow bounds how far from a prediction's target time an
	// observed rate may fall and still count as the realized price.
	ToleranceWindow time.Duration
	// AccuracyWindow is how many of the most recently evaluated
	// predictions feed the rolling MAPE.
	AccuracyWindow int
	// MinSamples is the minimum number of evaluated predictions required
	// before RollingMAPE reports a value instead of "not enough data".
	MinSamples int
}

func (c Config) tolerance() time.Duration {
	if c.ToleranceWindow > 0 {
		return c.ToleranceWindow
	}
	return defaultTolerance
}

func (c Config) accuracyWindow() int {
	if c.AccuracyWindow > 0 {
		return c.AccuracyWindow
	}
	return defaultAccuracyWindow
}

func (c Config) minSamples() int {
	if c.MinSamples > 0 {
		return c.MinSamples
	}
	return defaultMinSamples
}

// Evaluator runs spec.md §4.8 step 7 against a PredictionStore/RateStore
// pair and maintains a rolling MAPE in memory, mirroring the locked
// History window discipline from spec.md §5 ("writes only on successful
// swaps" generalized here to "writes only on successful evaluations").
type Evaluator struct {
	cfg       Config
	predStore persistence.PredictionStore
	rateStore persistence.RateStore

	mu     sync.Mutex
	recent []float64 // most recent MAPE samples, newest last
}

// New constructs an Evaluator. predStore and rateStore are the same
// collaborators the Portfolio Loop is injected with (spec.md §9's
// "process-scoped handles, not globals").
func New(cfg Config, predStore persistence.PredictionStore, rateStore persistence.RateStore) *Evaluator {
	return &Evaluator{cfg: cfg, predStore: predStore, rateStore: rateStore}
}

// Run evaluates every prediction whose target time is now in the past. It
// never returns an error: individual lookup failures are logged and
// skipped, since a missing realized rate is expected for predictions whose
// target time only just passed (scenario 6 in spec.md §8).
func (e *Evaluator) Run(ctx context.Context) {
	pending, err := e.predStore.PendingEvaluations(ctx, time.Now())
	if err != nil {
		log.Printf("evalloop: pending evaluations: %v", err)
		return
	}
	for _, rec := range pending {
		actual, err := e.realizedRate(ctx, rec)
		if err != nil {
			continue
		}
		absErr := actual - rec.PredictedValue
		if absErr < 0 {
			absErr = -absErr
		}
		mape := 0.0
		if actual != 0 {
			mape = absErr / actual * 100
		}
		if err := e.predStore.UpdateEvaluation(ctx, rec.ID, actual, mape, absErr); err != nil {
			log.Printf("evalloop: update evaluation %d failed: %v", rec.ID, err)
			continue
		}
		e.record(mape)
	}
}

// realizedRate looks up the closest recorded rate to rec's target time,
// within the configured tolerance window either side (spec.md §8 scenario
// 6: prediction target t0+24h, tolerance 30min).
func (e *Evaluator) realizedRate(ctx context.Context, rec persistence.PredictionRecord) (float64, error) {
	tol := e.cfg.tolerance()
	points, err := e.rateStore.RatesInRange(ctx, persistence.RateRange{
		From: rec.TargetAt.Add(-tol),
		To:   rec.TargetAt.Add(tol),
	}, rec.Base, rec.Quote)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("evalloop: no observed rate near target for prediction %d", rec.ID)
	}

	best := points[0]
	bestDiff := absDuration(best.At.Sub(rec.TargetAt))
	for _, p := range points[1:] {
		d := absDuration(p.At.Sub(rec.TargetAt))
		if d < bestDiff {
			best, bestDiff = p, d
		}
	}
	return best.Rate, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (e *Evaluator) record(mape float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, mape)
	if w := e.cfg.accuracyWindow(); len(e.recent) > w {
		e.recent = e.recent[len(e.recent)-w:]
	}
}

// RollingMAPE returns the mean MAPE over the most recently evaluated
// predictions, and false if fewer than MinSamples have been evaluated yet.
func (e *Evaluator) RollingMAPE() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.recent) < e.cfg.minSamples() {
		return 0, false
	}
	sum := 0.0
	for _, v := range e.recent {
		sum += v
	}
	return sum / float64(len(e.recent)), true
}

// SampleCount reports how many MAPE samples are currently held, for tests
// and operator introspection.
func (e *Evaluator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.recent)
}
