// Package portfolio implements the Portfolio Loop from spec.md §4.8: rank
// candidate tokens by volatility, fetch price history, request predictions,
// compute target weights, and rebalance router-custodied holdings toward
// them. Grounded on original_source/backend/src/trade.rs's run()/record_rates()
// cron-driven shape (here expressed with github.com/robfig/cron/v3 instead of
// the Rust cron crate) and trade/algorithm/momentum's expected-return and
// momentum-filter arithmetic.
package portfolio

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ref-trader/reftrader/pkg/evalloop"
	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/predictor"
	"github.com/ref-trader/reftrader/pkg/ratestats"
	"github.com/ref-trader/reftrader/pkg/router"
	"github.com/ref-trader/reftrader/pkg/swap"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// tradingFeeRoundTrip and maxSlippage are the cost deductions applied to
// expected return (spec.md §4.8 step 4's "subtract round-trip fees and max
// slippage"), matching trade/algorithm/momentum's TRADING_FEE/MAX_SLIPPAGE
// constants (0.3% each way, 2% slippage).
const (
	tradingFeeRoundTrip = 0.006
	maxSlippage         = 0.02

	defaultMinMomentum = 0.05
)

// Config holds the Portfolio Loop's operator-tunable knobs (spec.md §6).
type Config struct {
	Enabled    bool
	QuoteToken tokenaccount.Account

	TopTokens        int
	TopKAllocation   int
	VolatilityDays   int
	PriceHistoryDays int
	MinHistoryPoints int
	MinPoolDepth     *big.Int

	RebalanceThreshold float64
	MinTradeAmount     *big.Int

	PredictionHorizon time.Duration
	MinMomentum       float64

	RecordRatesCron     string
	TradeCron           string
	RecordRatesQuoteAmt *big.Int
}

func (c Config) topTokens() int {
	if c.TopTokens > 0 {
		return c.TopTokens
	}
	return 10
}

func (c Config) topKAllocation() int {
	if c.TopKAllocation > 0 {
		return c.TopKAllocation
	}
	return 5
}

func (c Config) volatilityWindow() time.Duration {
	if c.VolatilityDays > 0 {
		return time.Duration(c.VolatilityDays) * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

func (c Config) priceHistoryWindow() time.Duration {
	if c.PriceHistoryDays > 0 {
		return time.Duration(c.PriceHistoryDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

func (c Config) minHistoryPoints() int {
	if c.MinHistoryPoints > 0 {
		return c.MinHistoryPoints
	}
	return 10
}

func (c Config) rebalanceThreshold() float64 {
	if c.RebalanceThreshold > 0 {
		return c.RebalanceThreshold
	}
	return 0.05
}

func (c Config) minTradeAmount() *big.Int {
	if c.MinTradeAmount != nil && c.MinTradeAmount.Sign() > 0 {
		return c.MinTradeAmount
	}
	return big.NewInt(1)
}

func (c Config) predictionHorizon() time.Duration {
	if c.PredictionHorizon > 0 {
		return c.PredictionHorizon
	}
	return 24 * time.Hour
}

func (c Config) minMomentum() float64 {
	if c.MinMomentum > 0 {
		return c.MinMomentum
	}
	return defaultMinMomentum
}

func (c Config) recordRatesCron() string {
	if c.RecordRatesCron != "" {
		return c.RecordRatesCron
	}
	return "0 */15 * * * *"
}

func (c Config) tradeCron() string {
	if c.TradeCron != "" {
		return c.TradeCron
	}
	return "0 0 0 * * *"
}

func (c Config) recordRatesQuoteAmount() *big.Int {
	if c.RecordRatesQuoteAmt != nil && c.RecordRatesQuoteAmt.Sign() > 0 {
		return c.RecordRatesQuoteAmt
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(26), nil) // 100 whole tokens
}

// PoolSource supplies a fresh read of every pool's reserves from the chain,
// abstracted here since spec.md's Router contract surface (§6) documents no
// bulk pool-listing method — the concrete source is whatever topology the
// operator's cmd/bot wiring configures.
type PoolSource interface {
	ReadPools(ctx context.Context) ([]*pool.PoolInfo, error)
}

// PredictorClient is the capability subset of *predictor.Client this loop needs.
type PredictorClient interface {
	PredictZeroShot(ctx context.Context, req predictor.Request) (*predictor.Result, error)
}

// Loop runs the Portfolio Loop against one signer.
type Loop struct {
	cfg       Config
	pools     PoolSource
	poolStore persistence.PoolSnapshotStore
	rateStore persistence.RateStore
	predStore persistence.PredictionStore
	predict   PredictorClient
	gateway   *router.Gateway
	history   *ratestats.History
	eval      *evalloop.Evaluator

	mu    sync.Mutex
	cache map[string]*predictor.Result
}

// New builds a Loop.
func New(cfg Config, pools PoolSource, poolStore persistence.PoolSnapshotStore, rateStore persistence.RateStore, predStore persistence.PredictionStore, predict PredictorClient, gateway *router.Gateway) *Loop {
	return &Loop{
		cfg:       cfg,
		pools:     pools,
		poolStore: poolStore,
		rateStore: rateStore,
		predStore: predStore,
		predict:   predict,
		gateway:   gateway,
		history:   ratestats.NewHistory(),
		eval:      evalloop.New(evalloop.Config{}, predStore, rateStore),
		cache:     make(map[string]*predictor.Result),
	}
}

// AccuracyWindow exposes the rolling-MAPE evaluator so an operator surface
// (cmd/tokens, a metrics endpoint) can report recent prediction accuracy
// without reaching into Loop internals.
func (l *Loop) AccuracyWindow() *evalloop.Evaluator { return l.eval }

// Run schedules RecordRates and Tick on their respective cron expressions
// until ctx is cancelled. Mirrors trade.rs's run_record_rates/run_trade.
func (l *Loop) Run(ctx context.Context) {
	if !l.cfg.Enabled {
		log.Printf("portfolio: not enabled, exiting")
		return
	}

	c := cron.New(cron.WithSeconds())
	recordRates := func() {
		if err := l.RecordRates(ctx); err != nil {
			log.Printf("portfolio: record_rates failed: %v", err)
		}
	}
	if _, err := c.AddFunc(l.cfg.recordRatesCron(), recordRates); err != nil {
		log.Printf("portfolio: invalid record-rates schedule %q, falling back to default: %v", l.cfg.RecordRatesCron, err)
		_, _ = c.AddFunc(Config{}.recordRatesCron(), recordRates)
	}
	tick := func() {
		if err := l.Tick(ctx); err != nil {
			log.Printf("portfolio: tick failed: %v", err)
		}
	}
	if _, err := c.AddFunc(l.cfg.tradeCron(), tick); err != nil {
		log.Printf("portfolio: invalid trade schedule %q, falling back to default: %v", l.cfg.TradeCron, err)
		_, _ = c.AddFunc(Config{}.tradeCron(), tick)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// RankCandidates exposes spec.md §4.8 step 1 (volatility selection plus the
// momentum pre-filter) for an operator CLI to inspect without running a
// full Tick, reading the most recently persisted pool snapshot rather than
// hitting the chain directly.
func (l *Loop) RankCandidates(ctx context.Context) ([]tokenaccount.Account, error) {
	snapshots, err := l.poolStore.UniqueBetween(ctx, time.Now().Add(-l.cfg.priceHistoryWindow()), time.Now())
	if err != nil {
		return nil, fmt.Errorf("portfolio: read pool snapshots: %w", err)
	}
	infoList := pool.NewInfoList(snapshots)
	graph := pool.Build(infoList)
	return l.rankCandidates(ctx, graph, infoList), nil
}

// RecordRates reads a fresh pool snapshot, persists it, and derives a
// (base, quote) rate for every reachable token, matching trade.rs's
// record_rates().
func (l *Loop) RecordRates(ctx context.Context) error {
	snapshots, err := l.pools.ReadPools(ctx)
	if err != nil {
		return fmt.Errorf("portfolio: read pools: %w", err)
	}
	if err := l.poolStore.Write(ctx, snapshots); err != nil {
		log.Printf("portfolio: pool snapshot write failed (non-critical): %v", err)
	}

	graph := pool.Build(pool.NewInfoList(snapshots))
	quote := l.cfg.QuoteToken
	initial := l.cfg.recordRatesQuoteAmount()

	goals := graph.Tokens()
	paths := graph.ListReturns(initial, quote, goals)

	now := time.Now()
	var rates []persistence.TokenRate
	for base, path := range paths {
		out := path.ComposeReturn(initial)
		rate := new(big.Float).Quo(new(big.Float).SetInt(out), new(big.Float).SetInt(initial))
		r, _ := rate.Float64()
		rates = append(rates, persistence.TokenRate{Base: base, Quote: quote, Rate: r, At: now})
	}
	if len(rates) == 0 {
		return nil
	}
	if err := l.rateStore.Insert(ctx, rates); err != nil {
		return fmt.Errorf("portfolio: insert rates: %w", err)
	}
	return nil
}

// Tick runs one Candidate→Prediction→Rebalance pass (spec.md §4.8 steps 1-6),
// spawning past-prediction evaluation as an unawaited background task (step 7).
func (l *Loop) Tick(ctx context.Context) error {
	go l.eval.Run(context.Background())

	snapshots, err := l.poolStore.UniqueBetween(ctx, time.Now().Add(-l.cfg.priceHistoryWindow()), time.Now())
	if err != nil {
		return fmt.Errorf("portfolio: read pool snapshots: %w", err)
	}
	infoList := pool.NewInfoList(snapshots)
	graph := pool.Build(infoList)

	candidates := l.rankCandidates(ctx, graph, infoList)
	if len(candidates) == 0 {
		log.Printf("portfolio: no candidates survived ranking")
		return nil
	}

	predictions := l.predictAll(ctx, candidates)
	if len(predictions) == 0 {
		log.Printf("portfolio: no predictions available this tick")
		return nil
	}

	targets := computeTargetWeights(predictions, l.cfg.topKAllocation())
	if len(targets) == 0 {
		log.Printf("portfolio: no positive-expectation targets this tick")
		return nil
	}

	return l.rebalance(ctx, graph, targets)
}

// candidatePrediction bundles one candidate's current rate, predicted rate,
// and confidence for target-weight computation.
type candidatePrediction struct {
	Token      tokenaccount.Account
	Current    float64
	Predicted  float64
	Confidence float64
}

// rankCandidates implements spec.md §4.8 step 1 plus the momentum pre-filter:
// reachable tokens excluding shallow pools, momentum-screened, ranked by
// volatility descending, capped to TopTokens.
func (l *Loop) rankCandidates(ctx context.Context, g *pool.Graph, infoList *pool.InfoList) []tokenaccount.Account {
	quote := l.cfg.QuoteToken
	minDepth := l.cfg.MinPoolDepth

	var survivors []tokenaccount.Account
	for _, tok := range g.Tokens() {
		if tok == quote {
			continue
		}
		if minDepth != nil && minDepth.Sign() > 0 && !hasSufficientDepth(infoList, tok, minDepth) {
			continue
		}
		points, err := l.rateStore.RatesInRange(ctx, persistence.RateRange{
			From: time.Now().Add(-l.cfg.volatilityWindow()),
			To:   time.Now(),
		}, tok, quote)
		if err != nil {
			continue
		}
		rp := toRatePoints(points)
		if !momentumFilter(rp, l.cfg.minMomentum()) {
			continue
		}
		survivors = append(survivors, tok)
	}

	return rankByVolatility(ctx, l.rateStore, survivors, quote, l.cfg.volatilityWindow(), l.cfg.topTokens())
}

// hasSufficientDepth reports whether any pool holding tok has a reserve at
// least minDepth.
func hasSufficientDepth(infoList *pool.InfoList, tok tokenaccount.Account, minDepth *big.Int) bool {
	for _, p := range infoList.All() {
		i := p.IndexOf(tok)
		if i < 0 {
			continue
		}
		if p.Reserves[i].Cmp(minDepth) >= 0 {
			return true
		}
	}
	return false
}

func toRatePoints(rates []persistence.TokenRate) []ratestats.RatePoint {
	out := make([]ratestats.RatePoint, len(rates))
	for i, r := range rates {
		out[i] = ratestats.RatePoint{At: r.At, Rate: r.Rate}
	}
	return out
}

// momentumFilter drops a candidate only when its most recent observed change
// is firmly negative, ahead of the costlier full price-history fetch.
// Grounded on backend/src/trade/algorithm/momentum (common/src/algorithm's
// stub plus its integration tests), which screens candidates on recent
// short-window return before running the full prediction pipeline.
func momentumFilter(points []ratestats.RatePoint, minMomentum float64) bool {
	if len(points) < 2 {
		return true
	}
	prev := points[len(points)-2].Rate
	last := points[len(points)-1].Rate
	if prev <= 0 {
		return true
	}
	change := (last - prev) / prev
	return change > -minMomentum
}

// rankByVolatility orders candidates by descending sample-stddev of
// log-returns over window, keeping the top N (spec.md §4.8 step 1).
func rankByVolatility(ctx context.Context, rateStore persistence.RateStore, candidates []tokenaccount.Account, quote tokenaccount.Account, window time.Duration, topN int) []tokenaccount.Account {
	type scored struct {
		token tokenaccount.Account
		vol   float64
	}
	var scoredList []scored
	for _, tok := range candidates {
		points, err := rateStore.RatesInRange(ctx, persistence.RateRange{From: time.Now().Add(-window), To: time.Now()}, tok, quote)
		if err != nil {
			continue
		}
		vol := ratestats.LogReturnVolatility(toRatePoints(points))
		scoredList = append(scoredList, scored{token: tok, vol: vol})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].vol > scoredList[j].vol })
	if len(scoredList) > topN {
		scoredList = scoredList[:topN]
	}
	out := make([]tokenaccount.Account, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.token
	}
	return out
}

// predictAll fetches price history and a prediction for each candidate,
// skipping any with insufficient history coverage (spec.md §4.8 step 2-3).
func (l *Loop) predictAll(ctx context.Context, candidates []tokenaccount.Account) []candidatePrediction {
	var out []candidatePrediction
	for _, tok := range candidates {
		points, err := l.rateStore.RatesInRange(ctx, persistence.RateRange{
			From: time.Now().Add(-l.cfg.priceHistoryWindow()),
			To:   time.Now(),
		}, tok, l.cfg.QuoteToken)
		if err != nil || len(points) < l.cfg.minHistoryPoints() {
			continue
		}

		result, err := l.predictCached(ctx, tok, points)
		if err != nil || len(result.ForecastValues) == 0 {
			continue
		}
		confidence := result.Metrics["confidence"]
		if confidence <= 0 {
			confidence = 1
		}
		out = append(out, candidatePrediction{
			Token:      tok,
			Current:    points[len(points)-1].Rate,
			Predicted:  result.ForecastValues[len(result.ForecastValues)-1],
			Confidence: confidence,
		})
	}
	return out
}

// cacheKey matches spec.md §4.8 step 3's "(model, quote, base, history_window,
// prediction_window)".
func cacheKey(model string, quote, base tokenaccount.Account, historyWindow, predictionWindow time.Duration) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", model, quote, base, historyWindow, predictionWindow)
}

func (l *Loop) predictCached(ctx context.Context, base tokenaccount.Account, points []persistence.TokenRate) (*predictor.Result, error) {
	const model = "chronos"
	key := cacheKey(model, l.cfg.QuoteToken, base, l.cfg.priceHistoryWindow(), l.cfg.predictionHorizon())

	l.mu.Lock()
	if cached, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	timestamps := make([]time.Time, len(points))
	rawValues := make([]float64, len(points))
	for i, p := range points {
		timestamps[i] = p.At
		rawValues[i] = p.Rate
	}
	scale := predictor.NewScaleParams(rawValues)
	req := predictor.Request{
		Timestamps:    timestamps,
		Values:        scale.ScaleAll(rawValues),
		ForecastUntil: time.Now().Add(l.cfg.predictionHorizon()),
		ModelName:     model,
	}
	result, err := l.predict.PredictZeroShot(ctx, req)
	if err != nil {
		return nil, err
	}
	result.ForecastValues = scale.UnscaleAll(result.ForecastValues)

	l.mu.Lock()
	l.cache[key] = result
	l.mu.Unlock()

	if err := l.predStore.InsertPredictions(ctx, []persistence.PredictionRecord{{
		Model:            model,
		Quote:            l.cfg.QuoteToken,
		Base:             base,
		HistoryWindow:    l.cfg.priceHistoryWindow(),
		PredictionWindow: l.cfg.predictionHorizon(),
		PredictedAt:      time.Now(),
		TargetAt:         time.Now().Add(l.cfg.predictionHorizon()),
		PredictedValue:   result.ForecastValues[len(result.ForecastValues)-1],
	}}); err != nil {
		log.Printf("portfolio: record prediction failed (non-critical): %v", err)
	}
	return result, nil
}

// TargetWeight is one candidate's desired portfolio share.
type TargetWeight struct {
	Token  tokenaccount.Account
	Weight float64
}

// expectedReturn computes the round-trip-cost-adjusted expected return,
// matching trade/algorithm/momentum's calculate_expected_return.
func expectedReturn(current, predicted float64) float64 {
	if current <= 0 {
		return 0
	}
	return (predicted-current)/current - tradingFeeRoundTrip - maxSlippage
}

// computeTargetWeights implements spec.md §4.8 step 4: discard non-positive
// expected return, allocate proportional to gain*confidence, cap to topK.
func computeTargetWeights(predictions []candidatePrediction, topK int) []TargetWeight {
	type gained struct {
		token tokenaccount.Account
		gain  float64
	}
	var positives []gained
	for _, p := range predictions {
		ret := expectedReturn(p.Current, p.Predicted)
		if ret <= 0 {
			continue
		}
		positives = append(positives, gained{token: p.Token, gain: ret * p.Confidence})
	}
	sort.Slice(positives, func(i, j int) bool { return positives[i].gain > positives[j].gain })
	if len(positives) > topK {
		positives = positives[:topK]
	}

	var total float64
	for _, g := range positives {
		total += g.gain
	}
	if total <= 0 {
		return nil
	}
	out := make([]TargetWeight, len(positives))
	for i, g := range positives {
		out[i] = TargetWeight{Token: g.token, Weight: g.gain / total}
	}
	return out
}

// rebalance implements spec.md §4.8 step 5: load current holdings, diff
// against target weights, and execute trades for deltas beyond the
// rebalance threshold, skipping any below min_trade_amount.
func (l *Loop) rebalance(ctx context.Context, g *pool.Graph, targets []TargetWeight) error {
	deposits, err := l.gateway.Deposits(ctx, l.gateway.AccountID())
	if err != nil {
		return fmt.Errorf("portfolio: deposits: %w", err)
	}

	quote := l.cfg.QuoteToken
	totalValue := big.NewInt(0)
	valueByToken := make(map[tokenaccount.Account]*big.Int, len(deposits))
	for tok, amount := range deposits {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		value := valueInQuote(g, tok, quote, amount)
		valueByToken[tok] = value
		totalValue.Add(totalValue, value)
	}
	if totalValue.Sign() <= 0 {
		log.Printf("portfolio: no router-side holdings to rebalance")
		return nil
	}
	totalF := new(big.Float).SetInt(totalValue)

	threshold := l.cfg.rebalanceThreshold()
	minTrade := l.cfg.minTradeAmount()

	for _, t := range targets {
		current := valueByToken[t.Token]
		currentWeight := 0.0
		if current != nil {
			cw, _ := new(big.Float).Quo(new(big.Float).SetInt(current), totalF).Float64()
			currentWeight = cw
		}
		delta := t.Weight - currentWeight
		if delta < 0 {
			delta = -delta
		}
		if delta <= threshold {
			continue
		}

		deltaValue := new(big.Float).Mul(big.NewFloat(t.Weight-currentWeight), totalF)
		deltaInt, _ := deltaValue.Int(nil)
		if deltaInt.Sign() == 0 {
			continue
		}
		tradeAmount := new(big.Int).Abs(deltaInt)
		if tradeAmount.Cmp(minTrade) < 0 {
			continue
		}

		var path *pool.Path
		var input *big.Int
		if deltaInt.Sign() > 0 {
			// Buying: tradeAmount is already denominated in the quote token.
			path, err = g.ShortestPath(quote, t.Token)
			input = tradeAmount
		} else {
			// Selling: convert the quote-denominated delta back into an
			// amount of the held token, proportional to its current value.
			path, err = g.ShortestPath(t.Token, quote)
			input = tokenAmountForValue(deposits[t.Token], current, tradeAmount)
		}
		if err != nil {
			log.Printf("portfolio: no route for %s, skipping", t.Token)
			continue
		}
		if input == nil || input.Sign() <= 0 {
			continue
		}

		if err := l.executeSwap(ctx, path, input); err != nil {
			log.Printf("portfolio: swap failed for %s: %v", t.Token, err)
			continue
		}
	}
	return nil
}

// tokenAmountForValue scales a holding's deposited amount by the fraction
// targetValue represents of that holding's total current value (currentValue,
// in quote terms), assuming a locally linear price over the slice being sold.
func tokenAmountForValue(heldAmount, currentValue, targetValue *big.Int) *big.Int {
	if heldAmount == nil || heldAmount.Sign() <= 0 || currentValue == nil || currentValue.Sign() <= 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(heldAmount, targetValue)
	amount.Quo(amount, currentValue)
	return amount
}

func valueInQuote(g *pool.Graph, tok, quote tokenaccount.Account, amount *big.Int) *big.Int {
	if tok == quote {
		return new(big.Int).Set(amount)
	}
	path, err := g.ShortestPath(tok, quote)
	if err != nil {
		return big.NewInt(0)
	}
	return path.ComposeReturn(amount)
}

// executeSwap composes and submits one rebalancing trade, blocking until
// finality before returning (spec.md §5's "sequential swap submission").
func (l *Loop) executeSwap(ctx context.Context, path *pool.Path, input *big.Int) error {
	output := path.ComposeReturn(input)
	minOut := new(big.Int).Mul(output, big.NewInt(98))
	minOut.Quo(minOut, big.NewInt(100)) // 2% max-slippage floor
	actions, _ := swap.BuildActions(path, input, minOut)
	outcome, err := swap.Execute(ctx, l.gateway, actions)
	if err != nil {
		return err
	}
	if !outcome.Success {
		return fmt.Errorf("portfolio: swap reached chain but failed: %s", outcome.Status)
	}
	return nil
}
