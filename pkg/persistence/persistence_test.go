package persistence

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &MySQLStore{db: gormDB}, mock
}

func TestMySQLStore_WritePoolSnapshots(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `pool_snapshots`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p := &pool.PoolInfo{
		ID:         42,
		Kind:       pool.KindSimple,
		Tokens:     []tokenaccount.Account{tokenaccount.MustParse("usdc.near"), tokenaccount.MustParse("wrap.near")},
		Reserves:   []*big.Int{big.NewInt(1000), big.NewInt(2000)},
		FeeBps:     30,
		TotalShare: big.NewInt(5000),
		ObservedAt: time.Now(),
	}

	err := store.Write(context.Background(), []*pool.PoolInfo{p})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_InsertRates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `token_rates`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Insert(context.Background(), []TokenRate{
		{Base: tokenaccount.MustParse("usdc.near"), Quote: tokenaccount.MustParse("wrap.near"), Rate: 1.23, At: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_InsertPredictions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `prediction_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InsertPredictions(context.Background(), []PredictionRecord{
		{
			Model:            "zero-shot",
			Base:             tokenaccount.MustParse("usdc.near"),
			Quote:            tokenaccount.MustParse("wrap.near"),
			HistoryWindow:    time.Hour,
			PredictionWindow: 15 * time.Minute,
			PredictedAt:      time.Now(),
			TargetAt:         time.Now().Add(15 * time.Minute),
			PredictedValue:   1.5,
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToString(t *testing.T) {
	tests := []struct {
		name     string
		input    *big.Int
		expected string
	}{
		{"nil value", nil, "0"},
		{"zero value", big.NewInt(0), "0"},
		{"positive value", big.NewInt(123456789), "123456789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, bigIntToString(tt.input))
		})
	}
}

func TestJoinSplitStringsRoundTrip(t *testing.T) {
	in := []string{"a.near", "b.near", "c.near"}
	require.Equal(t, in, splitStrings(joinStrings(in)))
	require.Nil(t, splitStrings(""))
}

func TestPoolSnapshotModel_TableName(t *testing.T) {
	require.Equal(t, "pool_snapshots", poolSnapshotModel{}.TableName())
	require.Equal(t, "token_rates", rateModel{}.TableName())
	require.Equal(t, "prediction_records", predictionModel{}.TableName())
}
