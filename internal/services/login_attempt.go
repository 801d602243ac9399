package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CallumSergeant/alarm/pkg/models"
)

// SourceCount aggregates login attempts for one source address.
type SourceCount struct {
	Host     string `json:"host,omitempty"`
	SourceIP string `json:"source_ip"`
	Count    int    `json:"count"`
}

// LoginAttemptFilter narrows List queries. Empty fields match everything.
type LoginAttemptFilter struct {
	Query  string              // Substring match on source_ip, action, host, source.
	Action models.LoginOutcome // Exact action match.
	Range  TimeRange
}

// LoginAttemptRepository stores parsed authentication events.
type LoginAttemptRepository interface {
	Insert(ctx context.Context, attempt *models.LoginAttempt) error

	// SourcesAtLeast groups attempts with the given action at or after since
	// by source address and returns groups with at least minCount rows.
	SourcesAtLeast(ctx context.Context, action models.LoginOutcome, since time.Time, minCount int) ([]SourceCount, error)

	// Count returns the number of attempts with action whose timestamp lies in
	// [Start, End). Zero bounds are open.
	Count(ctx context.Context, action models.LoginOutcome, tr TimeRange) (int, error)

	// TopSources returns the busiest (host, source_ip) pairs in [Start, End).
	TopSources(ctx context.Context, action models.LoginOutcome, tr TimeRange, limit int) ([]SourceCount, error)

	// Timestamps returns the timestamps of matching attempts since the given instant.
	Timestamps(ctx context.Context, action models.LoginOutcome, since time.Time) ([]time.Time, error)

	List(ctx context.Context, f LoginAttemptFilter, opts ListOptions) (*ListResult[models.LoginAttempt], error)
}

// Compile-time interface guard.
var _ LoginAttemptRepository = (*SQLiteLoginAttemptRepository)(nil)

// SQLiteLoginAttemptRepository implements LoginAttemptRepository using SQLite.
type SQLiteLoginAttemptRepository struct {
	db DBTX
}

func NewSQLiteLoginAttemptRepository(db DBTX) *SQLiteLoginAttemptRepository {
	return &SQLiteLoginAttemptRepository{db: db}
}

func (r *SQLiteLoginAttemptRepository) Insert(ctx context.Context, a *models.LoginAttempt) error {
	a.Timestamp = a.Timestamp.UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (timestamp, source_ip, action, source, host)
		VALUES (?, ?, ?, ?, ?)`,
		a.Timestamp, a.SourceIP, string(a.Action), a.Source, a.Host,
	)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

func (r *SQLiteLoginAttemptRepository) SourcesAtLeast(ctx context.Context, action models.LoginOutcome, since time.Time, minCount int) ([]SourceCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_ip, COUNT(*) AS n
		FROM login_attempts
		WHERE action = ? AND timestamp >= ?
		GROUP BY source_ip
		HAVING COUNT(*) >= ?
		ORDER BY n DESC, source_ip ASC`,
		string(action), since.UTC(), minCount,
	)
	if err != nil {
		return nil, fmt.Errorf("group login attempts: %w", err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.SourceIP, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *SQLiteLoginAttemptRepository) Count(ctx context.Context, action models.LoginOutcome, tr TimeRange) (int, error) {
	where, args := halfOpenRange("action = ?", []any{string(action)}, tr)
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count login attempts: %w", err)
	}
	return n, nil
}

func (r *SQLiteLoginAttemptRepository) TopSources(ctx context.Context, action models.LoginOutcome, tr TimeRange, limit int) ([]SourceCount, error) {
	if limit <= 0 {
		limit = 5
	}
	where, args := halfOpenRange("action = ?", []any{string(action)}, tr)
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT host, source_ip, COUNT(*) AS n
		FROM login_attempts
		WHERE `+where+`
		GROUP BY host, source_ip
		ORDER BY n DESC, source_ip ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("top sources: %w", err)
	}
	defer rows.Close()

	out := []SourceCount{}
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Host, &sc.SourceIP, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan top source: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *SQLiteLoginAttemptRepository) Timestamps(ctx context.Context, action models.LoginOutcome, since time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT timestamp FROM login_attempts WHERE action = ? AND timestamp >= ?`,
		string(action), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (r *SQLiteLoginAttemptRepository) List(ctx context.Context, f LoginAttemptFilter, opts ListOptions) (*ListResult[models.LoginAttempt], error) {
	opts = normalizeListOptions(opts)

	where := "1=1"
	var args []any
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where += " AND (source_ip LIKE ? OR action LIKE ? OR host LIKE ? OR source LIKE ?)"
		args = append(args, like, like, like, like)
	}
	if f.Action != "" {
		where += " AND action = ?"
		args = append(args, string(f.Action))
	}
	where, args = appendTimeRange(where, args, "timestamp", f.Range)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count login attempts: %w", err)
	}

	query := `SELECT id, timestamp, source_ip, action, source, host FROM login_attempts WHERE ` +
		where + ` ORDER BY timestamp ` + orderDir(opts) + `, id ` + orderDir(opts) + ` LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list login attempts: %w", err)
	}
	defer rows.Close()

	items := []models.LoginAttempt{}
	for rows.Next() {
		var a models.LoginAttempt
		var action string
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.SourceIP, &action, &a.Source, &a.Host); err != nil {
			return nil, fmt.Errorf("scan login attempt: %w", err)
		}
		a.Action = models.LoginOutcome(action)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate login attempts: %w", err)
	}
	return &ListResult[models.LoginAttempt]{Items: items, Total: total}, nil
}

// halfOpenRange bounds a timestamp column to [Start, End).
func halfOpenRange(where string, args []any, tr TimeRange) (string, []any) {
	if !tr.Start.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, tr.Start.UTC())
	}
	if !tr.End.IsZero() {
		where += " AND timestamp < ?"
		args = append(args, tr.End.UTC())
	}
	return where, args
}
