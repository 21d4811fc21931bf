// Package persistence defines the three storage interfaces consumed by the
// core (spec.md §6: PoolSnapshotStore, RateStore, PredictionStore) and ships
// one concrete GORM/MySQL adapter satisfying all three, generalizing the
// teacher's MySQLRecorder pattern in internal/db/transaction_recorder.go
// (GORM model + AutoMigrate + TableName()) from a single asset-snapshot table
// to the pool/rate/prediction schema this bot needs.
package persistence

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// PoolSnapshotStore persists and retrieves PoolInfo snapshots.
type PoolSnapshotStore interface {
	Write(ctx context.Context, snapshots []*pool.PoolInfo) error
	Latest(ctx context.Context, poolID int64) (*pool.PoolInfo, error)
	LatestBefore(ctx context.Context, poolID int64, ts time.Time) (*pool.PoolInfo, error)
	UniqueBetween(ctx context.Context, from, to time.Time) ([]*pool.PoolInfo, error)
}

// TokenRate is one (base, quote, rate, timestamp) observation.
type TokenRate struct {
	Base, Quote tokenaccount.Account
	Rate        float64
	At          time.Time
}

// RateRange bounds a time-series query.
type RateRange struct {
	From, To time.Time
}

// RateStore persists and retrieves TokenRate observations.
type RateStore interface {
	Insert(ctx context.Context, rates []TokenRate) error
	RatesInRange(ctx context.Context, r RateRange, base, quote tokenaccount.Account) ([]TokenRate, error)
}

// PredictionRecord is one stored prediction, pending or evaluated.
type PredictionRecord struct {
	ID                int64
	Model             string
	Quote, Base       tokenaccount.Account
	HistoryWindow     time.Duration
	PredictionWindow  time.Duration
	PredictedAt       time.Time
	TargetAt          time.Time
	PredictedValue    float64
	Evaluated         bool
	ActualValue       float64
	AbsoluteError     float64
	MAPE              float64
}

// PredictionStore persists predictions and their later accuracy evaluation.
type PredictionStore interface {
	InsertPredictions(ctx context.Context, records []PredictionRecord) error
	PendingEvaluations(ctx context.Context, asOf time.Time) ([]PredictionRecord, error)
	UpdateEvaluation(ctx context.Context, id int64, actual, mape, absErr float64) error
	RecentEvaluated(ctx context.Context, n int) ([]PredictionRecord, error)
}

// poolSnapshotModel is the GORM row shape for one PoolInfo observation.
// Amounts are stored as decimal strings (varchar), the same "big.Int as
// string" convention the teacher uses for AssetSnapshotRecord's amount columns.
type poolSnapshotModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	PoolID     int64     `gorm:"index;not null"`
	Kind       int       `gorm:"not null"`
	Tokens     string    `gorm:"type:text;not null;comment:comma-joined token ids"`
	Reserves   string    `gorm:"type:text;not null;comment:comma-joined big.Int strings"`
	FeeBps     int64     `gorm:"not null"`
	TotalShare string    `gorm:"type:varchar(78);not null"`
	Amp        int64     `gorm:"not null"`
	ObservedAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (poolSnapshotModel) TableName() string { return "pool_snapshots" }

// rateModel is the GORM row shape for one TokenRate observation.
type rateModel struct {
	ID    uint      `gorm:"primaryKey;autoIncrement"`
	Base  string    `gorm:"index;not null"`
	Quote string    `gorm:"index;not null"`
	Rate  float64   `gorm:"not null"`
	At    time.Time `gorm:"index;not null"`
}

func (rateModel) TableName() string { return "token_rates" }

// predictionModel is the GORM row shape for one PredictionRecord.
type predictionModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Model            string `gorm:"not null"`
	Quote            string `gorm:"index;not null"`
	Base             string `gorm:"index;not null"`
	HistoryWindowSec int64  `gorm:"not null"`
	PredictWindowSec int64  `gorm:"not null"`
	PredictedAt      time.Time `gorm:"index;not null"`
	TargetAt         time.Time `gorm:"index;not null"`
	PredictedValue   float64
	Evaluated        bool    `gorm:"index;not null"`
	ActualValue      float64
	AbsoluteError    float64
	MAPE             float64
}

func (predictionModel) TableName() string { return "prediction_records" }

// MySQLStore implements PoolSnapshotStore, RateStore, and PredictionStore
// over one GORM/MySQL connection, matching the teacher's single-recorder,
// single-connection shape (internal/db.MySQLRecorder).
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore opens dsn and auto-migrates the schema, mirroring
// internal/db.NewMySQLRecorder.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: connect mysql: %w", err)
	}
	return NewMySQLStoreWithDB(db)
}

// NewMySQLStoreWithDB wraps an existing *gorm.DB (NewMySQLStore calls it once the connection is open).
func NewMySQLStoreWithDB(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&poolSnapshotModel{}, &rateModel{}, &predictionModel{}); err != nil {
		return nil, fmt.Errorf("persistence: migrate schema: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Write(ctx context.Context, snapshots []*pool.PoolInfo) error {
	rows := make([]poolSnapshotModel, len(snapshots))
	for i, p := range snapshots {
		rows[i] = toSnapshotModel(p)
	}
	if result := s.db.WithContext(ctx).Create(&rows); result.Error != nil {
		return fmt.Errorf("persistence: write pool snapshots: %w", result.Error)
	}
	return nil
}

func (s *MySQLStore) Latest(ctx context.Context, poolID int64) (*pool.PoolInfo, error) {
	var row poolSnapshotModel
	result := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("observed_at DESC").First(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: latest(%d): %w", poolID, result.Error)
	}
	return fromSnapshotModel(row)
}

func (s *MySQLStore) LatestBefore(ctx context.Context, poolID int64, ts time.Time) (*pool.PoolInfo, error) {
	var row poolSnapshotModel
	result := s.db.WithContext(ctx).
		Where("pool_id = ? AND observed_at <= ?", poolID, ts).
		Order("observed_at DESC").First(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: latest_before(%d, %s): %w", poolID, ts, result.Error)
	}
	return fromSnapshotModel(row)
}

func (s *MySQLStore) UniqueBetween(ctx context.Context, from, to time.Time) ([]*pool.PoolInfo, error) {
	var rows []poolSnapshotModel
	result := s.db.WithContext(ctx).
		Where("observed_at BETWEEN ? AND ?", from, to).
		Order("observed_at ASC").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: unique_between(%s, %s): %w", from, to, result.Error)
	}
	latest := make(map[int64]poolSnapshotModel, len(rows))
	for _, r := range rows {
		if cur, ok := latest[r.PoolID]; !ok || r.ObservedAt.After(cur.ObservedAt) {
			latest[r.PoolID] = r
		}
	}
	out := make([]*pool.PoolInfo, 0, len(latest))
	for _, r := range latest {
		p, err := fromSnapshotModel(r)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MySQLStore) Insert(ctx context.Context, rates []TokenRate) error {
	rows := make([]rateModel, len(rates))
	for i, r := range rates {
		rows[i] = rateModel{Base: r.Base.String(), Quote: r.Quote.String(), Rate: r.Rate, At: r.At}
	}
	if result := s.db.WithContext(ctx).Create(&rows); result.Error != nil {
		return fmt.Errorf("persistence: insert rates: %w", result.Error)
	}
	return nil
}

func (s *MySQLStore) RatesInRange(ctx context.Context, r RateRange, base, quote tokenaccount.Account) ([]TokenRate, error) {
	var rows []rateModel
	result := s.db.WithContext(ctx).
		Where("base = ? AND quote = ? AND at BETWEEN ? AND ?", base.String(), quote.String(), r.From, r.To).
		Order("at ASC").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: rates_in_range: %w", result.Error)
	}
	out := make([]TokenRate, len(rows))
	for i, row := range rows {
		b, _ := tokenaccount.Parse(row.Base)
		q, _ := tokenaccount.Parse(row.Quote)
		out[i] = TokenRate{Base: b, Quote: q, Rate: row.Rate, At: row.At}
	}
	return out, nil
}

func (s *MySQLStore) InsertPredictions(ctx context.Context, records []PredictionRecord) error {
	rows := make([]predictionModel, len(records))
	for i, r := range records {
		rows[i] = toPredictionModel(r)
	}
	if result := s.db.WithContext(ctx).Create(&rows); result.Error != nil {
		return fmt.Errorf("persistence: insert predictions: %w", result.Error)
	}
	return nil
}

func (s *MySQLStore) PendingEvaluations(ctx context.Context, asOf time.Time) ([]PredictionRecord, error) {
	var rows []predictionModel
	result := s.db.WithContext(ctx).
		Where("evaluated = ? AND target_at <= ?", false, asOf).
		Order("target_at ASC").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: pending_evaluations: %w", result.Error)
	}
	out := make([]PredictionRecord, len(rows))
	for i, row := range rows {
		out[i] = fromPredictionModel(row)
	}
	return out, nil
}

func (s *MySQLStore) UpdateEvaluation(ctx context.Context, id int64, actual, mape, absErr float64) error {
	result := s.db.WithContext(ctx).Model(&predictionModel{}).Where("id = ?", id).Updates(map[string]any{
		"evaluated":      true,
		"actual_value":   actual,
		"mape":           mape,
		"absolute_error": absErr,
	})
	if result.Error != nil {
		return fmt.Errorf("persistence: update_evaluation(%d): %w", id, result.Error)
	}
	return nil
}

func (s *MySQLStore) RecentEvaluated(ctx context.Context, n int) ([]PredictionRecord, error) {
	var rows []predictionModel
	result := s.db.WithContext(ctx).Where("evaluated = ?", true).Order("target_at DESC").Limit(n).Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: recent_evaluated: %w", result.Error)
	}
	out := make([]PredictionRecord, len(rows))
	for i, row := range rows {
		out[i] = fromPredictionModel(row)
	}
	return out, nil
}

func toSnapshotModel(p *pool.PoolInfo) poolSnapshotModel {
	tokens := make([]string, len(p.Tokens))
	for i, t := range p.Tokens {
		tokens[i] = t.String()
	}
	reserves := make([]string, len(p.Reserves))
	for i, r := range p.Reserves {
		reserves[i] = bigIntToString(r)
	}
	return poolSnapshotModel{
		PoolID:     p.ID,
		Kind:       int(p.Kind),
		Tokens:     joinStrings(tokens),
		Reserves:   joinStrings(reserves),
		FeeBps:     p.FeeBps,
		TotalShare: bigIntToString(p.TotalShare),
		Amp:        p.Amp,
		ObservedAt: p.ObservedAt,
	}
}

func fromSnapshotModel(row poolSnapshotModel) (*pool.PoolInfo, error) {
	tokenStrs := splitStrings(row.Tokens)
	tokens := make([]tokenaccount.Account, len(tokenStrs))
	for i, s := range tokenStrs {
		t, err := tokenaccount.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("persistence: parse token %q: %w", s, err)
		}
		tokens[i] = t
	}
	reserveStrs := splitStrings(row.Reserves)
	reserves := make([]*big.Int, len(reserveStrs))
	for i, s := range reserveStrs {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("persistence: parse reserve %q", s)
		}
		reserves[i] = v
	}
	totalShare, _ := new(big.Int).SetString(row.TotalShare, 10)
	return &pool.PoolInfo{
		ID:         row.PoolID,
		Kind:       pool.Kind(row.Kind),
		Tokens:     tokens,
		Reserves:   reserves,
		FeeBps:     row.FeeBps,
		TotalShare: totalShare,
		Amp:        row.Amp,
		ObservedAt: row.ObservedAt,
	}, nil
}

func toPredictionModel(r PredictionRecord) predictionModel {
	return predictionModel{
		ID:               r.ID,
		Model:            r.Model,
		Quote:            r.Quote.String(),
		Base:             r.Base.String(),
		HistoryWindowSec: int64(r.HistoryWindow.Seconds()),
		PredictWindowSec: int64(r.PredictionWindow.Seconds()),
		PredictedAt:      r.PredictedAt,
		TargetAt:         r.TargetAt,
		PredictedValue:   r.PredictedValue,
		Evaluated:        r.Evaluated,
		ActualValue:      r.ActualValue,
		AbsoluteError:    r.AbsoluteError,
		MAPE:             r.MAPE,
	}
}

func fromPredictionModel(row predictionModel) PredictionRecord {
	base, _ := tokenaccount.Parse(row.Base)
	quote, _ := tokenaccount.Parse(row.Quote)
	return PredictionRecord{
		ID:               row.ID,
		Model:            row.Model,
		Quote:            quote,
		Base:             base,
		HistoryWindow:    time.Duration(row.HistoryWindowSec) * time.Second,
		PredictionWindow: time.Duration(row.PredictWindowSec) * time.Second,
		PredictedAt:      row.PredictedAt,
		TargetAt:         row.TargetAt,
		PredictedValue:   row.PredictedValue,
		Evaluated:        row.Evaluated,
		ActualValue:      row.ActualValue,
		AbsoluteError:    row.AbsoluteError,
		MAPE:             row.MAPE,
	}
}

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

const listSep = ","

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += listSep
		}
		out += s
	}
	return out
}

func splitStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
