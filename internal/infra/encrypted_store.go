package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/policy"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	storeDBName         = "usagemon.db"
	metaWhitelistSeed   = "whitelist_seeded"
	metaAppVersion      = "app_version"
	sqliteBusyTimeoutMs = 5000
)

// EncryptedStore implements domain.Store on a SQLCipher encrypted SQLite
// database. The CLI and the daemon open the same file concurrently; SQLite
// locking gives single-record consistency between them.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted store in dataDir.
// The key is used as the raw SQLCipher key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=%d",
		dbPath, hex.EncodeToString(key), sqliteBusyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open encrypted database: %w", err)
	}
	// One connection keeps the key pragma and busy timeout on every statement.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	if err := s.seedWhitelist(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed whitelist: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS app_limits (
		package_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		daily_limit_minutes INTEGER NOT NULL CHECK (daily_limit_minutes BETWEEN 1 AND 1440),
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS whitelist (
		package_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS usage_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id TEXT NOT NULL,
		sampled_at INTEGER NOT NULL,
		credited_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_samples_time ON usage_samples (sampled_at);
	CREATE INDEX IF NOT EXISTS idx_usage_samples_pkg_time ON usage_samples (package_id, sampled_at);

	CREATE TABLE IF NOT EXISTS daemon_state (
		role TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		last_heartbeat INTEGER NOT NULL,
		app_version TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// seedWhitelist inserts the default entries once. The meta marker keeps a
// user's later removals from being undone on the next open.
func (s *EncryptedStore) seedWhitelist(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var marker string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaWhitelistSeed).Scan(&marker)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	for _, e := range policy.DefaultWhitelist() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO whitelist (package_id, display_name, reason) VALUES (?, ?, ?)`,
			e.PackageID, e.DisplayName, e.Reason); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, metaWhitelistSeed, "1"); err != nil {
		return err
	}
	return tx.Commit()
}

// --- domain.LimitRegistry ---

// GetLimit returns the limit for pkg or domain.ErrNotFound.
func (s *EncryptedStore) GetLimit(ctx context.Context, pkg string) (*domain.AppLimit, error) {
	var l domain.AppLimit
	err := s.db.QueryRowContext(ctx,
		`SELECT package_id, display_name, daily_limit_minutes, enabled FROM app_limits WHERE package_id = ?`,
		pkg).Scan(&l.PackageID, &l.DisplayName, &l.DailyLimitMinutes, &l.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get limit %s: %w", pkg, err)
	}
	return &l, nil
}

// ListLimits returns every limit ordered by package id.
func (s *EncryptedStore) ListLimits(ctx context.Context) ([]domain.AppLimit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_id, display_name, daily_limit_minutes, enabled FROM app_limits ORDER BY package_id`)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	defer rows.Close()

	limits := make([]domain.AppLimit, 0)
	for rows.Next() {
		var l domain.AppLimit
		if err := rows.Scan(&l.PackageID, &l.DisplayName, &l.DailyLimitMinutes, &l.Enabled); err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

// UpsertLimit inserts or replaces the limit for limit.PackageID.
func (s *EncryptedStore) UpsertLimit(ctx context.Context, limit domain.AppLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_limits (package_id, display_name, daily_limit_minutes, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (package_id) DO UPDATE SET
			display_name = excluded.display_name,
			daily_limit_minutes = excluded.daily_limit_minutes,
			enabled = excluded.enabled`,
		limit.PackageID, limit.DisplayName, limit.DailyLimitMinutes, limit.Enabled)
	if err != nil {
		return fmt.Errorf("upsert limit %s: %w", limit.PackageID, err)
	}
	return nil
}

// SetLimitEnabled toggles an existing limit.
func (s *EncryptedStore) SetLimitEnabled(ctx context.Context, pkg string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE app_limits SET enabled = ? WHERE package_id = ?`, enabled, pkg)
	if err != nil {
		return fmt.Errorf("set limit %s enabled=%t: %w", pkg, enabled, err)
	}
	return requireAffected(res)
}

// DeleteLimit removes the limit for pkg.
func (s *EncryptedStore) DeleteLimit(ctx context.Context, pkg string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_limits WHERE package_id = ?`, pkg)
	if err != nil {
		return fmt.Errorf("delete limit %s: %w", pkg, err)
	}
	return requireAffected(res)
}

// --- domain.WhitelistRegistry ---

// IsWhitelisted reports whether pkg is exempt from enforcement.
func (s *EncryptedStore) IsWhitelisted(ctx context.Context, pkg string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM whitelist WHERE package_id = ?`, pkg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("whitelist lookup %s: %w", pkg, err)
	}
	return true, nil
}

// GetWhitelistEntry returns the entry for pkg or domain.ErrNotFound.
func (s *EncryptedStore) GetWhitelistEntry(ctx context.Context, pkg string) (*domain.WhitelistEntry, error) {
	var e domain.WhitelistEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT package_id, display_name, reason FROM whitelist WHERE package_id = ?`,
		pkg).Scan(&e.PackageID, &e.DisplayName, &e.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get whitelist entry %s: %w", pkg, err)
	}
	return &e, nil
}

// ListWhitelist returns every entry ordered by package id.
func (s *EncryptedStore) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_id, display_name, reason FROM whitelist ORDER BY package_id`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.WhitelistEntry, 0)
	for rows.Next() {
		var e domain.WhitelistEntry
		if err := rows.Scan(&e.PackageID, &e.DisplayName, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddWhitelist inserts or replaces a whitelist entry.
func (s *EncryptedStore) AddWhitelist(ctx context.Context, entry domain.WhitelistEntry) error {
	if entry.PackageID == "" {
		return fmt.Errorf("add whitelist: package id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO whitelist (package_id, display_name, reason) VALUES (?, ?, ?)`,
		entry.PackageID, entry.DisplayName, entry.Reason)
	if err != nil {
		return fmt.Errorf("add whitelist %s: %w", entry.PackageID, err)
	}
	return nil
}

// RemoveWhitelist deletes the entry for pkg.
func (s *EncryptedStore) RemoveWhitelist(ctx context.Context, pkg string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM whitelist WHERE package_id = ?`, pkg)
	if err != nil {
		return fmt.Errorf("remove whitelist %s: %w", pkg, err)
	}
	return requireAffected(res)
}

// --- domain.UsageLog / domain.UsageSource ---

// RecordSample appends one foreground sample.
func (s *EncryptedStore) RecordSample(ctx context.Context, pkg string, at time.Time, credited time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_samples (package_id, sampled_at, credited_ms) VALUES (?, ?, ?)`,
		pkg, at.UnixMilli(), credited.Milliseconds())
	if err != nil {
		return fmt.Errorf("record sample %s: %w", pkg, err)
	}
	return nil
}

// PruneSamples deletes samples taken before the cutoff.
func (s *EncryptedStore) PruneSamples(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_samples WHERE sampled_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// QueryForegroundInterval returns each package sampled in [start, end] with
// its latest sample time.
func (s *EncryptedStore) QueryForegroundInterval(ctx context.Context, start, end time.Time) ([]domain.ForegroundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT package_id, MAX(sampled_at) FROM usage_samples
		WHERE sampled_at >= ? AND sampled_at <= ?
		GROUP BY package_id`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query foreground interval: %w", err)
	}
	defer rows.Close()

	var records []domain.ForegroundRecord
	for rows.Next() {
		var pkg string
		var lastMs int64
		if err := rows.Scan(&pkg, &lastMs); err != nil {
			return nil, fmt.Errorf("scan foreground record: %w", err)
		}
		records = append(records, domain.ForegroundRecord{PackageID: pkg, LastUsedAt: time.UnixMilli(lastMs)})
	}
	return records, rows.Err()
}

// QueryDailyUsage sums the time credited to pkg by samples in [start, end].
func (s *EncryptedStore) QueryDailyUsage(ctx context.Context, pkg string, start, end time.Time) (time.Duration, error) {
	var totalMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(credited_ms), 0) FROM usage_samples
		WHERE package_id = ? AND sampled_at >= ? AND sampled_at <= ?`,
		pkg, start.UnixMilli(), end.UnixMilli()).Scan(&totalMs)
	if err != nil {
		return 0, fmt.Errorf("query daily usage %s: %w", pkg, err)
	}
	return time.Duration(totalMs) * time.Millisecond, nil
}

// --- domain.DaemonRegistry ---

// Register saves the daemon's PID and process name.
func (s *EncryptedStore) Register(daemon domain.Daemon) error {
	now := time.Now().Unix()
	startedAt := now
	if !daemon.StartedAt.IsZero() {
		startedAt = daemon.StartedAt.Unix()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_state (role, pid, process_name, started_at, last_heartbeat, app_version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(daemon.Role), daemon.PID, daemon.Name, startedAt, now, daemon.AppVersion,
	)
	if err != nil {
		return err
	}
	if daemon.AppVersion != "" {
		_, err = s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, metaAppVersion, daemon.AppVersion)
	}
	return err
}

// UpdateHeartbeat updates the liveness timestamp of a registered daemon.
func (s *EncryptedStore) UpdateHeartbeat(role domain.DaemonRole) error {
	res, err := s.db.Exec(`UPDATE daemon_state SET last_heartbeat = ? WHERE role = ?`,
		time.Now().Unix(), string(role))
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("daemon %s not registered", role)
	}
	return nil
}

// GetAll returns the registered watcher, or nil when none is registered.
func (s *EncryptedStore) GetAll() (*domain.RegistryEntry, error) {
	entry := &domain.RegistryEntry{}
	err := s.db.QueryRow(`
		SELECT pid, process_name, started_at, last_heartbeat, app_version
		FROM daemon_state WHERE role = ?`, string(domain.RoleWatcher)).
		Scan(&entry.WatcherPID, &entry.WatcherName, &entry.StartedAt, &entry.LastHeartbeat, &entry.AppVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Clear removes daemon state. Limits, whitelist and samples are kept.
func (s *EncryptedStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM daemon_state`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM meta WHERE key = ?`, metaAppVersion)
	return err
}

// GetRegistryPath returns the database file path.
func (s *EncryptedStore) GetRegistryPath() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.Store = (*EncryptedStore)(nil)
