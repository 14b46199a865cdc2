package sqldb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// LEDGER (points.LedgerStore interface)
// =============================================================================

// AppendEntry inserts one ledger row. There is no update or delete.
func (s *Store) AppendEntry(ctx context.Context, e points.LedgerEntry) error {
	if err := appendEntry(ctx, s.db, e); err != nil {
		return classify("append ledger entry", err)
	}
	return nil
}

// SumDeltas returns Σ delta for the user within w, 0 when there are no rows.
func (s *Store) SumDeltas(ctx context.Context, userID points.UserID, w points.Window) (int64, error) {
	sum, err := sumDeltas(ctx, s.db, userID, w)
	if err != nil {
		return 0, classify("sum deltas", err)
	}
	return sum, nil
}

// SaveTask records the title and category of a task for history and
// breakdown reports. An empty category is stored as the default.
func (s *Store) SaveTask(ctx context.Context, t points.Task) error {
	category := strings.TrimSpace(t.Category)
	if category == "" {
		category = points.DefaultTaskCategory
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tasks (id, title, category) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, category = excluded.category`),
		string(t.ID), t.Title, category)
	if err != nil {
		return classify("save task", err)
	}
	return nil
}

// appendEntry is shared by the store and open transactions.
func appendEntry(ctx context.Context, db sqlx.ExtContext, e points.LedgerEntry) error {
	var taskID sql.NullString
	if e.TaskID != nil {
		taskID = nullString(string(*e.TaskID))
	}
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO point_ledger (id, user_id, delta, reason, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		string(e.ID), string(e.UserID), e.Delta, e.Reason, taskID, dbTime{e.CreatedAt},
	)
	return err
}

func sumDeltas(ctx context.Context, db sqlx.ExtContext, userID points.UserID, w points.Window) (int64, error) {
	var (
		query strings.Builder
		args  = []any{string(userID)}
	)
	query.WriteString(`SELECT CAST(COALESCE(SUM(delta), 0) AS BIGINT) FROM point_ledger WHERE user_id = ?`)
	if w.Start != nil {
		query.WriteString(` AND created_at >= ?`)
		args = append(args, dbTime{*w.Start})
	}
	if w.End != nil {
		query.WriteString(` AND created_at < ?`)
		args = append(args, dbTime{*w.End})
	}

	var sum int64
	if err := sqlx.GetContext(ctx, db, &sum, db.Rebind(query.String()), args...); err != nil {
		return 0, err
	}
	return sum, nil
}
