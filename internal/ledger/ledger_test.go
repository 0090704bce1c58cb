package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/storage"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.Local)

func intp(v int) *int { return &v }

func newTestLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return New(NewSQLStore(db), WithClock(func() time.Time { return fixedNow })), db
}

func TestWriteDefaultsEachDateFieldIndependently(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 120, Item: "午餐"})
	require.NoError(t, err)
	require.Equal(t, 2024, rec.Year)
	require.Equal(t, 3, rec.Month)
	require.Equal(t, 15, rec.Day)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, fixedNow.UTC(), rec.CreatedAt)
	require.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	rec, err = l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 50, Item: "咖啡", Day: intp(2)})
	require.NoError(t, err)
	require.Equal(t, []int{2024, 3, 2}, []int{rec.Year, rec.Month, rec.Day})

	rec, err = l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindIncome, Amount: 900, Item: "獎金", Year: intp(2023), Month: intp(12)})
	require.NoError(t, err)
	require.Equal(t, []int{2023, 12, 15}, []int{rec.Year, rec.Month, rec.Day})
}

func TestWriteRejectsNegativeAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Write(context.Background(), models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: -1})
	require.Error(t, err)
}

func TestMonthlyAggregate(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindIncome, Amount: 100, Item: "薪水"})
	require.NoError(t, err)
	_, err = l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 40, Item: "晚餐"})
	require.NoError(t, err)
	// other owner and other month must not leak in
	_, err = l.Write(ctx, models.Draft{Owner: "U2", Kind: models.KindExpense, Amount: 999, Item: "x"})
	require.NoError(t, err)
	_, err = l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 7, Item: "y", Month: intp(2)})
	require.NoError(t, err)

	agg, err := l.MonthlyAggregate(ctx, "U1", 2024, 3)
	require.NoError(t, err)
	require.Equal(t, models.Aggregate{Income: 100, Expense: 40, Balance: 60}, agg)
}

func TestMonthlyAggregateEmptyMonthIsZero(t *testing.T) {
	l, _ := newTestLedger(t)
	agg, err := l.MonthlyAggregate(context.Background(), "U1", 2020, 1)
	require.NoError(t, err)
	require.Equal(t, models.Aggregate{}, agg)

	_, err = l.Write(context.Background(), models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 30, Item: "a"})
	require.NoError(t, err)
	agg, err = l.MonthlyAggregate(context.Background(), "U1", 2024, 3)
	require.NoError(t, err)
	require.Equal(t, models.Aggregate{Income: 0, Expense: 30, Balance: -30}, agg)
}

func TestQueryFilters(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	for _, d := range []models.Draft{
		{Owner: "U1", Kind: models.KindExpense, Amount: 1, Item: "a", Year: intp(2024), Month: intp(1)},
		{Owner: "U1", Kind: models.KindExpense, Amount: 2, Item: "b", Year: intp(2024), Month: intp(2)},
		{Owner: "U1", Kind: models.KindIncome, Amount: 3, Item: "c", Year: intp(2023), Month: intp(2)},
		{Owner: "U2", Kind: models.KindIncome, Amount: 4, Item: "d", Year: intp(2024), Month: intp(2)},
	} {
		_, err := l.Write(ctx, d)
		require.NoError(t, err)
	}

	all, err := l.Query(ctx, "U1", nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	year, err := l.Query(ctx, "U1", intp(2024), nil)
	require.NoError(t, err)
	require.Len(t, year, 2)

	month, err := l.Query(ctx, "U1", intp(2024), intp(2))
	require.NoError(t, err)
	require.Len(t, month, 1)
	require.Equal(t, "b", month[0].Item)

	anyYearFeb, err := l.Query(ctx, "U1", nil, intp(2))
	require.NoError(t, err)
	require.Len(t, anyYearFeb, 2)
}

func TestExpenseByItem(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	for _, d := range []models.Draft{
		{Owner: "U1", Kind: models.KindExpense, Amount: 10, Item: "餐飲"},
		{Owner: "U1", Kind: models.KindExpense, Amount: 25, Item: "交通"},
		{Owner: "U1", Kind: models.KindExpense, Amount: 30, Item: "餐飲"},
		{Owner: "U1", Kind: models.KindIncome, Amount: 500, Item: "薪水"},
	} {
		_, err := l.Write(ctx, d)
		require.NoError(t, err)
	}
	totals, err := l.ExpenseByItem(ctx, "U1", intp(2024), intp(3))
	require.NoError(t, err)
	require.Equal(t, []models.CategoryTotal{{Item: "餐飲", Amount: 40}, {Item: "交通", Amount: 25}}, totals)
}

func TestStoreFailureIsPersistenceUnavailable(t *testing.T) {
	l, db := newTestLedger(t)
	db.Close()
	_, err := l.Write(context.Background(), models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 1})
	require.True(t, errors.Is(err, models.ErrPersistenceUnavailable), "got %v", err)
	_, err = l.MonthlyAggregate(context.Background(), "U1", 2024, 3)
	require.True(t, errors.Is(err, models.ErrPersistenceUnavailable), "got %v", err)
}

func TestResolveDate(t *testing.T) {
	y, m, d := ResolveDate(nil, intp(7), nil, fixedNow)
	require.Equal(t, []int{2024, 7, 15}, []int{y, m, d})
}
