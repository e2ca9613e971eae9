package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"congregation-admin-go/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const pqUniqueViolation = "23505"

type PostgresStore struct {
	db        *sql.DB
	now       func() time.Time
	listeners listeners
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStoreWithDB(db), nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// SetClock replaces the time source used to stamp entries and bin items.
func (s *PostgresStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PostgresStore) AddAuditListener(l AuditListener) {
	s.listeners = append(s.listeners, l)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RunMigrations creates tables if they don't exist and applies schema updates
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	migrations := []string{
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS totp_secret VARCHAR(255);`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS totp_enabled BOOLEAN DEFAULT FALSE;`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS last_password_change TIMESTAMP WITH TIME ZONE DEFAULT NOW();`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Event log

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAudit(ctx context.Context, q rowQuerier, entry *models.AuditLogEntry) error {
	var metadata any
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = b
	}

	return q.QueryRowContext(ctx,
		`INSERT INTO audit_logs (action, actor, target, description, metadata, logged_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		entry.Action, entry.Actor, entry.Target, entry.Description, metadata, entry.Timestamp,
	).Scan(&entry.ID)
}

func (s *PostgresStore) Append(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	entry.Timestamp = models.NowMillis(s.now())
	if err := insertAudit(ctx, s.db, &entry); err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	s.listeners.fire(ctx, entry)
	return entry, nil
}

const auditColumns = `id, action, actor, target, description, metadata, logged_at`

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = models.DefaultEventPageSize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs ORDER BY logged_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs ORDER BY logged_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	logs := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		var entry models.AuditLogEntry
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor, &entry.Target, &entry.Description, &metadata, &entry.Timestamp); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of audit entry %d: %w", entry.ID, err)
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// Recycle bin

const binColumns = `id, type, original_id, data, deleted_by, deleted_at, expires_at`

func (s *PostgresStore) Add(ctx context.Context, itemType, originalID string, data json.RawMessage, deletedBy string) (models.BinItem, error) {
	item := models.NewBinItem(itemType, originalID, emptyIfNil(data), deletedBy, s.now())
	item.ID = uuid.NewString()
	entry := softDeleteEntry(item)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.BinItem{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bin_items (`+binColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.Type, item.OriginalID, []byte(item.Data), item.DeletedBy, item.DeletedAt, item.ExpiresAt,
	); err != nil {
		return models.BinItem{}, fmt.Errorf("insert bin item: %w", err)
	}

	if err := insertAudit(ctx, tx, &entry); err != nil {
		return models.BinItem{}, fmt.Errorf("append soft delete entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.BinItem{}, err
	}

	s.listeners.fire(ctx, entry)
	return item, nil
}

func (s *PostgresStore) GetBinItem(ctx context.Context, binID string) (models.BinItem, error) {
	if _, err := uuid.Parse(binID); err != nil {
		return models.BinItem{}, ErrNotFound
	}

	item, err := scanBinItem(s.db.QueryRowContext(ctx,
		`SELECT `+binColumns+` FROM bin_items WHERE id = $1`,
		binID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BinItem{}, ErrNotFound
	}
	if err != nil {
		return models.BinItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) Remove(ctx context.Context, binID string) (models.BinItem, error) {
	if _, err := uuid.Parse(binID); err != nil {
		return models.BinItem{}, ErrNotFound
	}

	item, err := scanBinItem(s.db.QueryRowContext(ctx,
		`DELETE FROM bin_items WHERE id = $1 RETURNING `+binColumns,
		binID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BinItem{}, ErrNotFound
	}
	if err != nil {
		return models.BinItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) RemoveByOriginal(ctx context.Context, itemType, originalID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM bin_items WHERE type = $1 AND original_id = $2`,
		itemType, originalID,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ListBin(ctx context.Context) ([]models.BinItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+binColumns+` FROM bin_items ORDER BY deleted_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	return scanBinRows(rows)
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time, policy SweepPolicy) (int, error) {
	nowMillis := models.NowMillis(now)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+binColumns+` FROM bin_items WHERE expires_at < $1 ORDER BY expires_at ASC`,
		nowMillis,
	)
	if err != nil {
		return 0, fmt.Errorf("find expired bin items: %w", err)
	}
	expired, err := scanBinRows(rows)
	if err != nil {
		return 0, fmt.Errorf("find expired bin items: %w", err)
	}

	purged := 0
	var errs []error
	for _, item := range expired {
		ok, err := s.purgeOne(ctx, item, nowMillis)
		if err != nil {
			err = fmt.Errorf("purge bin item %s (%s): %w", item.ID, item.Target(), err)
			if policy == SweepFailFast {
				return purged, err
			}
			errs = append(errs, err)
			continue
		}
		if ok {
			purged++
		}
	}
	return purged, errors.Join(errs...)
}

// purgeOne deletes one item and logs it in a single transaction. It reports false
// when the item was already gone, in which case nothing is logged.
func (s *PostgresStore) purgeOne(ctx context.Context, item models.BinItem, nowMillis int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `DELETE FROM bin_items WHERE id = $1`, item.ID)
	if err != nil {
		return false, err
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	entry := purgeEntry(item, nowMillis)
	if err := insertAudit(ctx, tx, &entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.listeners.fire(ctx, entry)
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinItem(row rowScanner) (models.BinItem, error) {
	var item models.BinItem
	var data []byte
	if err := row.Scan(&item.ID, &item.Type, &item.OriginalID, &data, &item.DeletedBy, &item.DeletedAt, &item.ExpiresAt); err != nil {
		return models.BinItem{}, err
	}
	item.Data = json.RawMessage(data)
	return item, nil
}

func scanBinRows(rows *sql.Rows) ([]models.BinItem, error) {
	defer rows.Close()

	items := make([]models.BinItem, 0)
	for rows.Next() {
		item, err := scanBinItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Local users

const localUserColumns = `id, username, password_hash, role, totp_secret, totp_enabled, last_password_change, created_at`

func (s *PostgresStore) CreateLocalUser(ctx context.Context, username, password, role string) (models.LocalUser, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.LocalUser{}, err
	}

	user, err := scanLocalUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at, last_password_change)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING `+localUserColumns,
		username, passwordHash, role,
	))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return models.LocalUser{}, ErrConflict
	}
	return user, err
}

func (s *PostgresStore) GetLocalUser(ctx context.Context, id int) (models.LocalUser, error) {
	user, err := scanLocalUser(s.db.QueryRowContext(ctx,
		`SELECT `+localUserColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LocalUser{}, ErrNotFound
	}
	return user, err
}

func (s *PostgresStore) GetLocalUserByUsername(ctx context.Context, username string) (models.LocalUser, error) {
	user, err := scanLocalUser(s.db.QueryRowContext(ctx,
		`SELECT `+localUserColumns+` FROM users WHERE username = $1`,
		username,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LocalUser{}, ErrNotFound
	}
	return user, err
}

func (s *PostgresStore) ListLocalUsers(ctx context.Context) ([]models.LocalUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+localUserColumns+` FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.LocalUser, 0)
	for rows.Next() {
		user, err := scanLocalUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateLocalUserPassword(ctx context.Context, id int, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, last_password_change = NOW() WHERE id = $2`,
		passwordHash, id,
	)
	return requireRow(result, err)
}

func (s *PostgresStore) UpdateLocalUser2FA(ctx context.Context, id int, totpSecret string, enabled bool) error {
	var secret sql.NullString
	if totpSecret != "" {
		secret = sql.NullString{String: totpSecret, Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET totp_secret = $1, totp_enabled = $2 WHERE id = $3`,
		secret, enabled, id,
	)
	return requireRow(result, err)
}

func scanLocalUser(row rowScanner) (models.LocalUser, error) {
	var user models.LocalUser
	var totpSecret sql.NullString
	var totpEnabled sql.NullBool
	var lastPasswordChange sql.NullTime

	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &totpSecret, &totpEnabled, &lastPasswordChange, &user.CreatedAt); err != nil {
		return models.LocalUser{}, err
	}
	user.TOTPSecret = totpSecret.String
	user.TOTPEnabled = totpEnabled.Bool
	if lastPasswordChange.Valid {
		user.LastPasswordChange = lastPasswordChange.Time
	}
	return user, nil
}

func requireRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Push subscriptions

func (s *PostgresStore) SavePushSubscription(ctx context.Context, userID int, endpoint, p256dh, auth string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		userID, endpoint, p256dh, auth,
	)
	return err
}

func (s *PostgresStore) ListPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at FROM push_subscriptions ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]models.PushSubscription, 0)
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	return err
}
