package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/CallumSergeant/alarm/internal/store"
)

// Migrate applies the core schema to st.
func Migrate(ctx context.Context, st *store.SQLiteStore) error {
	if err := st.Migrate(ctx, "core", coreMigrations); err != nil {
		return fmt.Errorf("core migrations: %w", err)
	}
	return nil
}

// coreMigrations defines the database schema owned by the repositories in
// this package. Timestamps are always written in UTC.
var coreMigrations = []store.Migration{
	{
		Version:     1,
		Description: "create devices and install tokens",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE managed_devices (
					unique_id     TEXT PRIMARY KEY,
					hostname      TEXT NOT NULL,
					ip_address    TEXT NOT NULL DEFAULT '',
					os            TEXT NOT NULL,
					last_check_in DATETIME NOT NULL,
					status        TEXT NOT NULL DEFAULT 'Healthy'
				)`,
				`CREATE INDEX idx_managed_devices_hostname ON managed_devices(hostname)`,
				`CREATE TABLE install_tokens (
					token      TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					expires_at DATETIME NOT NULL,
					is_used    INTEGER NOT NULL DEFAULT 0,
					used_at    DATETIME
				)`,
			}
			return execAll(tx, stmts)
		},
	},
	{
		Version:     2,
		Description: "create login attempts and blocklist",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE login_attempts (
					id        INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp DATETIME NOT NULL,
					source_ip TEXT NOT NULL,
					action    TEXT NOT NULL,
					source    TEXT NOT NULL DEFAULT 'fail2ban',
					host      TEXT NOT NULL DEFAULT 'unknown'
				)`,
				`CREATE INDEX idx_login_attempts_action_ts ON login_attempts(action, timestamp)`,
				`CREATE INDEX idx_login_attempts_source_ip ON login_attempts(source_ip)`,
				`CREATE TABLE blocked_ips (
					ip_address       TEXT PRIMARY KEY,
					banned_at        DATETIME NOT NULL,
					reason           TEXT NOT NULL DEFAULT '',
					currently_banned INTEGER NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX idx_blocked_ips_banned ON blocked_ips(currently_banned)`,
			}
			return execAll(tx, stmts)
		},
	},
	{
		Version:     3,
		Description: "create alerts and system scripts",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE alerts (
					id         INTEGER PRIMARY KEY AUTOINCREMENT,
					title      TEXT NOT NULL,
					message    TEXT NOT NULL,
					severity   TEXT NOT NULL DEFAULT 'INFO',
					created_at DATETIME NOT NULL,
					is_read    INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_alerts_created_at ON alerts(created_at)`,
				`CREATE TABLE system_scripts (
					name         TEXT PRIMARY KEY,
					content      TEXT NOT NULL,
					last_updated DATETIME NOT NULL
				)`,
			}
			return execAll(tx, stmts)
		},
	},
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
