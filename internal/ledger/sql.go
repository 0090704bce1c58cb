package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/EXCurryBar/mybot/internal/models"
)

// SQLStore keeps records in the ledger_records table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistenceUnavailable, err)
}

func (s *SQLStore) Insert(ctx context.Context, rec *models.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_records (id, user_id, type, amount, item, year, month, day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Owner, string(rec.Kind), rec.Amount, rec.Item,
		rec.Year, rec.Month, rec.Day, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return unavailable("insert record", err)
	}
	return nil
}

func (s *SQLStore) Find(ctx context.Context, f Filter) ([]*models.Record, error) {
	where := []string{"user_id = ?"}
	args := []any{f.Owner}
	if f.Year != nil {
		where = append(where, "year = ?")
		args = append(args, *f.Year)
	}
	if f.Month != nil {
		where = append(where, "month = ?")
		args = append(args, *f.Month)
	}
	if f.Kind != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Kind))
	}
	query := `SELECT id, user_id, type, amount, item, year, month, day, created_at, updated_at
		FROM ledger_records WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY year, month, day, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query records", err)
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		var (
			r    models.Record
			kind string
		)
		if err := rows.Scan(&r.ID, &r.Owner, &kind, &r.Amount, &r.Item,
			&r.Year, &r.Month, &r.Day, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, unavailable("scan record", err)
		}
		r.Kind = models.Kind(kind)
		recs = append(recs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate records", err)
	}
	return recs, nil
}

func (s *SQLStore) SumByKind(ctx context.Context, owner string, year, month int) (map[models.Kind]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(amount), 0)
		FROM ledger_records
		WHERE user_id = ? AND year = ? AND month = ?
		GROUP BY type`, owner, year, month)
	if err != nil {
		return nil, unavailable("sum records", err)
	}
	defer rows.Close()

	sums := make(map[models.Kind]float64)
	for rows.Next() {
		var (
			kind  string
			total float64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, unavailable("scan sum", err)
		}
		sums[models.Kind(kind)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate sums", err)
	}
	return sums, nil
}
