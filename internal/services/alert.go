package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/CallumSergeant/alarm/pkg/models"
)

// AlertFilter narrows List queries. Empty fields match everything.
type AlertFilter struct {
	Query    string // Substring match on title or message.
	Severity models.Severity
	Range    TimeRange
}

// AlertRepository stores alerts. Rows are append-only apart from the read flag.
type AlertRepository interface {
	Insert(ctx context.Context, a *models.Alert) error
	List(ctx context.Context, f AlertFilter, opts ListOptions) (*ListResult[models.Alert], error)
	MarkRead(ctx context.Context, id int64) error
	CountUnread(ctx context.Context) (int, error)
}

// Compile-time interface guard.
var _ AlertRepository = (*SQLiteAlertRepository)(nil)

// SQLiteAlertRepository implements AlertRepository using SQLite.
type SQLiteAlertRepository struct {
	db DBTX
}

func NewSQLiteAlertRepository(db DBTX) *SQLiteAlertRepository {
	return &SQLiteAlertRepository{db: db}
}

func (r *SQLiteAlertRepository) Insert(ctx context.Context, a *models.Alert) error {
	if a.Severity == "" {
		a.Severity = models.SeverityInfo
	}
	a.CreatedAt = a.CreatedAt.UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (title, message, severity, created_at, is_read)
		VALUES (?, ?, ?, ?, ?)`,
		a.Title, a.Message, string(a.Severity), a.CreatedAt, a.IsRead,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

func (r *SQLiteAlertRepository) List(ctx context.Context, f AlertFilter, opts ListOptions) (*ListResult[models.Alert], error) {
	opts = normalizeListOptions(opts)

	where := "1=1"
	var args []any
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where += " AND (title LIKE ? OR message LIKE ?)"
		args = append(args, like, like)
	}
	if f.Severity != "" {
		where += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	where, args = appendTimeRange(where, args, "created_at", f.Range)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, message, severity, created_at, is_read FROM alerts WHERE `+where+
			` ORDER BY created_at `+orderDir(opts)+`, id `+orderDir(opts)+` LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	items := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var sev string
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &sev, &a.CreatedAt, &a.IsRead); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = models.Severity(sev)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return &ListResult[models.Alert]{Items: items, Total: total}, nil
}

func (r *SQLiteAlertRepository) MarkRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteAlertRepository) CountUnread(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE is_read = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread alerts: %w", err)
	}
	return n, nil
}
