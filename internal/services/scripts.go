package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CallumSergeant/alarm/pkg/models"
)

// ScriptRepository provides access to the install and uninstall scripts
// served to devices.
type ScriptRepository interface {
	// Get returns a single script by name.
	Get(ctx context.Context, name string) (*models.SystemScript, error)

	// GetAll returns all scripts ordered by name.
	GetAll(ctx context.Context) ([]models.SystemScript, error)

	// Set creates or replaces a script. CRLF line endings are normalized.
	Set(ctx context.Context, name, content string) error

	// SeedDefaults inserts an empty script for each known name that is missing.
	SeedDefaults(ctx context.Context) error
}

// Compile-time interface guard.
var _ ScriptRepository = (*SQLiteScriptRepository)(nil)

// SQLiteScriptRepository implements ScriptRepository using SQLite.
type SQLiteScriptRepository struct {
	db  DBTX
	now func() time.Time
}

// NewSQLiteScriptRepository creates a ScriptRepository. now may be nil.
func NewSQLiteScriptRepository(db DBTX, now func() time.Time) *SQLiteScriptRepository {
	if now == nil {
		now = time.Now
	}
	return &SQLiteScriptRepository{db: db, now: now}
}

// ValidScriptName reports whether name is a script the server manages.
func ValidScriptName(name string) bool {
	return name == models.ScriptInstall || name == models.ScriptUninstall
}

func (r *SQLiteScriptRepository) Get(ctx context.Context, name string) (*models.SystemScript, error) {
	var s models.SystemScript
	err := r.db.QueryRowContext(ctx,
		`SELECT name, content, last_updated FROM system_scripts WHERE name = ?`, name,
	).Scan(&s.Name, &s.Content, &s.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get script %q: %w", name, err)
	}
	return &s, nil
}

func (r *SQLiteScriptRepository) GetAll(ctx context.Context) ([]models.SystemScript, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, content, last_updated FROM system_scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	var scripts []models.SystemScript
	for rows.Next() {
		var s models.SystemScript
		if err := rows.Scan(&s.Name, &s.Content, &s.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan script row: %w", err)
		}
		scripts = append(scripts, s)
	}
	return scripts, rows.Err()
}

func (r *SQLiteScriptRepository) Set(ctx context.Context, name, content string) error {
	if !ValidScriptName(name) {
		return fmt.Errorf("%w: unknown script %q", ErrValidation, name)
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_scripts (name, content, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET content = excluded.content, last_updated = excluded.last_updated`,
		name, content, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set script %q: %w", name, err)
	}
	return nil
}

func (r *SQLiteScriptRepository) SeedDefaults(ctx context.Context) error {
	for _, name := range []string{models.ScriptInstall, models.ScriptUninstall} {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO system_scripts (name, content, last_updated)
			VALUES (?, '', ?)
			ON CONFLICT (name) DO NOTHING`,
			name, r.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("seed script %q: %w", name, err)
		}
	}
	return nil
}
