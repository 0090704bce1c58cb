// Package ledger stores income and expense records and answers period queries.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/google/uuid"
)

// Filter narrows a query to one owner and, optionally, a year and month.
type Filter struct {
	Owner string
	Year  *int
	Month *int
	Kind  models.Kind
}

// Store is the persistence behind a Ledger. Errors wrap models.ErrPersistenceUnavailable.
type Store interface {
	Insert(ctx context.Context, rec *models.Record) error
	Find(ctx context.Context, f Filter) ([]*models.Record, error)
	SumByKind(ctx context.Context, owner string, year, month int) (map[models.Kind]float64, error)
}

// Ledger applies record defaults on top of a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the clock used for date defaults and timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now reports the ledger clock.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// ResolveDate fills each missing date field from now on its own, so a draft
// carrying only a day lands in the current year and month.
func ResolveDate(year, month, day *int, now time.Time) (int, int, int) {
	y, m, d := now.Year(), int(now.Month()), now.Day()
	if year != nil {
		y = *year
	}
	if month != nil {
		m = *month
	}
	if day != nil {
		d = *day
	}
	return y, m, d
}

// Write stores the draft as a new record.
func (l *Ledger) Write(ctx context.Context, draft models.Draft) (*models.Record, error) {
	if draft.Owner == "" {
		return nil, fmt.Errorf("write record: owner required")
	}
	if draft.Amount < 0 {
		return nil, fmt.Errorf("write record: negative amount %v", draft.Amount)
	}
	now := l.now()
	y, m, d := ResolveDate(draft.Year, draft.Month, draft.Day, now)
	rec := &models.Record{
		ID:        uuid.NewString(),
		Owner:     draft.Owner,
		Kind:      draft.Kind,
		Amount:    draft.Amount,
		Item:      draft.Item,
		Year:      y,
		Month:     m,
		Day:       d,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}
	return rec, nil
}

// Query lists the owner's records; nil year or month are not filtered on.
func (l *Ledger) Query(ctx context.Context, owner string, year, month *int) ([]*models.Record, error) {
	recs, err := l.store.Find(ctx, Filter{Owner: owner, Year: year, Month: month})
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return recs, nil
}

// MonthlyAggregate sums income and expense for one month. Kinds with no
// records count as zero.
func (l *Ledger) MonthlyAggregate(ctx context.Context, owner string, year, month int) (models.Aggregate, error) {
	sums, err := l.store.SumByKind(ctx, owner, year, month)
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("aggregate records: %w", err)
	}
	agg := models.Aggregate{
		Income:  sums[models.KindIncome],
		Expense: sums[models.KindExpense],
	}
	agg.Balance = agg.Income - agg.Expense
	return agg, nil
}

// ExpenseByItem totals expenses per item label, largest first.
func (l *Ledger) ExpenseByItem(ctx context.Context, owner string, year, month *int) ([]models.CategoryTotal, error) {
	recs, err := l.store.Find(ctx, Filter{Owner: owner, Year: year, Month: month, Kind: models.KindExpense})
	if err != nil {
		return nil, fmt.Errorf("expense by item: %w", err)
	}
	totals := make(map[string]float64)
	for _, r := range recs {
		item := r.Item
		if item == "" {
			item = "其他"
		}
		totals[item] += r.Amount
	}
	out := make([]models.CategoryTotal, 0, len(totals))
	for item, amount := range totals {
		out = append(out, models.CategoryTotal{Item: item, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Item < out[j].Item
	})
	return out, nil
}
