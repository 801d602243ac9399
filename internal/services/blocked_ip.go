package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CallumSergeant/alarm/internal/store"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// BlockedIPFilter narrows List queries. Empty fields match everything.
type BlockedIPFilter struct {
	Query string // Substring match on ip_address or reason.
	Range TimeRange
}

// BlockedIPRepository owns the blocked_ips table. Rows are never deleted.
type BlockedIPRepository interface {
	Get(ctx context.Context, ip string) (*models.BlockedIP, error)

	// Insert creates a banned row. Returns ErrAlreadyExists when the address
	// is already present.
	Insert(ctx context.Context, ip, reason string, at time.Time) error

	// Reactivate flips an unbanned row back to banned and resets banned_at.
	// It reports whether a row changed.
	Reactivate(ctx context.Context, ip string, at time.Time) (bool, error)

	// Toggle inverts currently_banned and returns the updated row.
	Toggle(ctx context.Context, ip string) (*models.BlockedIP, error)

	List(ctx context.Context, f BlockedIPFilter) ([]models.BlockedIP, error)

	// Addresses returns every address grouped by ban state.
	Addresses(ctx context.Context) (banned, unbanned []string, err error)
}

// Compile-time interface guard.
var _ BlockedIPRepository = (*SQLiteBlockedIPRepository)(nil)

// SQLiteBlockedIPRepository implements BlockedIPRepository using SQLite.
type SQLiteBlockedIPRepository struct {
	db DBTX
}

func NewSQLiteBlockedIPRepository(db DBTX) *SQLiteBlockedIPRepository {
	return &SQLiteBlockedIPRepository{db: db}
}

const blockedIPColumns = `ip_address, banned_at, reason, currently_banned`

func (r *SQLiteBlockedIPRepository) Get(ctx context.Context, ip string) (*models.BlockedIP, error) {
	b, err := scanBlockedIP(r.db.QueryRowContext(ctx,
		`SELECT `+blockedIPColumns+` FROM blocked_ips WHERE ip_address = ?`, ip))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blocked ip %q: %w", ip, err)
	}
	return b, nil
}

func (r *SQLiteBlockedIPRepository) Insert(ctx context.Context, ip, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocked_ips (ip_address, banned_at, reason, currently_banned)
		VALUES (?, ?, ?, 1)`,
		ip, at.UTC(), reason,
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert blocked ip: %w", err)
	}
	return nil
}

func (r *SQLiteBlockedIPRepository) Reactivate(ctx context.Context, ip string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE blocked_ips SET currently_banned = 1, banned_at = ?
		WHERE ip_address = ? AND currently_banned = 0`,
		at.UTC(), ip,
	)
	if err != nil {
		return false, fmt.Errorf("reactivate blocked ip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reactivate blocked ip: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteBlockedIPRepository) Toggle(ctx context.Context, ip string) (*models.BlockedIP, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE blocked_ips SET currently_banned = NOT currently_banned
		WHERE ip_address = ?`, ip)
	if err != nil {
		return nil, fmt.Errorf("toggle blocked ip: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, ip)
}

func (r *SQLiteBlockedIPRepository) List(ctx context.Context, f BlockedIPFilter) ([]models.BlockedIP, error) {
	where := "1=1"
	var args []any
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where += " AND (ip_address LIKE ? OR reason LIKE ?)"
		args = append(args, like, like)
	}
	where, args = appendTimeRange(where, args, "banned_at", f.Range)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+blockedIPColumns+` FROM blocked_ips WHERE `+where+` ORDER BY banned_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocked ips: %w", err)
	}
	defer rows.Close()

	out := []models.BlockedIP{}
	for rows.Next() {
		b, err := scanBlockedIP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blocked ip: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *SQLiteBlockedIPRepository) Addresses(ctx context.Context) (banned, unbanned []string, err error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ip_address, currently_banned FROM blocked_ips ORDER BY ip_address`)
	if err != nil {
		return nil, nil, fmt.Errorf("list blocked addresses: %w", err)
	}
	defer rows.Close()

	banned, unbanned = []string{}, []string{}
	for rows.Next() {
		var ip string
		var on bool
		if err := rows.Scan(&ip, &on); err != nil {
			return nil, nil, fmt.Errorf("scan blocked address: %w", err)
		}
		if on {
			banned = append(banned, ip)
		} else {
			unbanned = append(unbanned, ip)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate blocked addresses: %w", err)
	}
	return banned, unbanned, nil
}

func scanBlockedIP(row rowScanner) (*models.BlockedIP, error) {
	var b models.BlockedIP
	if err := row.Scan(&b.IPAddress, &b.BannedAt, &b.Reason, &b.CurrentlyBanned); err != nil {
		return nil, err
	}
	return &b, nil
}
