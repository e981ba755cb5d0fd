package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	sqlitedriver "modernc.org/sqlite"                    // local SQLite driver
	sqlite3 "modernc.org/sqlite/lib"
)

// Store implements repository.LinkRepository and repository.ClickEventRepository
// on SQLite or libSQL.
type Store struct {
	db *sql.DB
}

var (
	_ repository.LinkRepository       = (*Store)(nil)
	_ repository.ClickEventRepository = (*Store)(nil)
)

// IsMemoryDSN reports whether dsn names a database that lives only as long
// as the process.
func IsMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Open opens (or creates) the database at dsn and applies the schema.
// libsql:// and wss:// DSNs are served by the libSQL client.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driverName := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers, which also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if driverName == "sqlite" {
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;")
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL;")
		_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

const linkColumns = `id, original_url, short_code, is_active, expires_at, max_clicks,
total_clicks, unique_clicks, qr_code, created_at, updated_at`

func (s *Store) Create(ctx context.Context, link *model.Link) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = link.CreatedAt

	const q = `
INSERT INTO shortened_links (` + linkColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		link.ID, link.OriginalURL, link.ShortCode, link.IsActive, formatNullTime(link.ExpiresAt),
		link.MaxClicks, link.TotalClicks, link.UniqueClicks, link.QRCode,
		formatTime(link.CreatedAt), formatTime(link.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrShortCodeTaken
		}
		return err
	}
	return nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	const q = `SELECT ` + linkColumns + ` FROM shortened_links WHERE short_code = ? LIMIT 1`
	link, err := scanLink(s.db.QueryRowContext(ctx, q, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM shortened_links WHERE short_code = ?)`, code,
	).Scan(&exists)
	return exists, err
}

func (s *Store) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT short_code FROM shortened_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *Store) List(ctx context.Context, filter repository.ListFilter) ([]model.Link, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + likeEscaper.Replace(search) + "%"
		where = append(where, `(short_code LIKE ? ESCAPE '\' OR original_url LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shortened_links`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + linkColumns + ` FROM shortened_links` + clause +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, 0, err
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

func (s *Store) Update(ctx context.Context, link *model.Link) error {
	const q = `
UPDATE shortened_links
SET original_url = ?, is_active = ?, expires_at = ?, max_clicks = ?, qr_code = ?, updated_at = ?
WHERE short_code = ?`
	res, err := s.db.ExecContext(ctx, q,
		link.OriginalURL, link.IsActive, formatNullTime(link.ExpiresAt), link.MaxClicks, link.QRCode,
		formatTime(time.Now().UTC()), link.ShortCode,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrLinkNotFound
	}

	fresh, err := s.GetByCode(ctx, link.ShortCode)
	if err != nil {
		return err
	}
	*link = *fresh
	return nil
}

func (s *Store) Delete(ctx context.Context, code string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM shortened_links WHERE short_code = ?`, code).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrLinkNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM click_events WHERE link_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shortened_links WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cutoff := formatTime(now)
	rows, err := tx.QueryContext(ctx,
		`SELECT short_code FROM shortened_links WHERE expires_at IS NOT NULL AND expires_at <= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return nil, err
		}
		codes = append(codes, code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}

	const expiredIDs = `SELECT id FROM shortened_links WHERE expires_at IS NOT NULL AND expires_at <= ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM click_events WHERE link_id IN (`+expiredIDs+`)`, cutoff); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM shortened_links WHERE expires_at IS NOT NULL AND expires_at <= ?`, cutoff); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return codes, nil
}

// RecordVisit runs entirely on the transaction; touching s.db inside it would
// wait forever on the single pooled connection.
func (s *Store) RecordVisit(ctx context.Context, event *model.ClickEvent, now time.Time) (model.VisitOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.VisitOutcome{}, err
	}
	defer tx.Rollback()

	var (
		link    model.Link
		expires sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT short_code, is_active, expires_at, max_clicks, unique_clicks FROM shortened_links WHERE id = ?`,
		event.LinkID,
	).Scan(&link.ShortCode, &link.IsActive, &expires, &link.MaxClicks, &link.UniqueClicks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VisitOutcome{}, repository.ErrLinkNotFound
		}
		return model.VisitOutcome{}, fmt.Errorf("load link: %w", err)
	}
	if link.ExpiresAt, err = parseNullTime(expires); err != nil {
		return model.VisitOutcome{}, err
	}

	if ok, reason := model.CheckAccess(&link, now); !ok {
		return model.VisitOutcome{}, &model.AccessDeniedError{ShortCode: link.ShortCode, Reason: reason}
	}

	var seen bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM click_events WHERE link_id = ? AND ip_address = ?)`,
		event.LinkID, event.IPAddress,
	).Scan(&seen); err != nil {
		return model.VisitOutcome{}, fmt.Errorf("check visitor: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO click_events (id, link_id, ip_address, user_agent, referer, clicked_at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.LinkID, event.IPAddress, event.UserAgent, event.Referer, formatTime(event.ClickedAt),
	); err != nil {
		return model.VisitOutcome{}, fmt.Errorf("insert click: %w", err)
	}

	uniqueDelta := 1
	if seen {
		uniqueDelta = 0
	}
	var outcome model.VisitOutcome
	if err := tx.QueryRowContext(ctx, `
UPDATE shortened_links
SET total_clicks = total_clicks + 1, unique_clicks = unique_clicks + ?
WHERE id = ?
RETURNING total_clicks, unique_clicks`,
		uniqueDelta, event.LinkID,
	).Scan(&outcome.TotalClicks, &outcome.UniqueClicks); err != nil {
		return model.VisitOutcome{}, fmt.Errorf("bump counters: %w", err)
	}
	outcome.Unique = !seen

	if err := tx.Commit(); err != nil {
		return model.VisitOutcome{}, err
	}
	return outcome, nil
}

func (s *Store) ListRecent(ctx context.Context, linkID string, limit int) ([]model.ClickEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, link_id, ip_address, user_agent, referer, clicked_at
FROM click_events
WHERE link_id = ?
ORDER BY clicked_at DESC, id
LIMIT ?`, linkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ClickEvent
	for rows.Next() {
		var (
			ev      model.ClickEvent
			clicked string
		)
		if err := rows.Scan(&ev.ID, &ev.LinkID, &ev.IPAddress, &ev.UserAgent, &ev.Referer, &clicked); err != nil {
			return nil, err
		}
		if ev.ClickedAt, err = parseTime(clicked); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*model.Link, error) {
	var (
		link             model.Link
		expires          sql.NullString
		created, updated string
	)
	if err := row.Scan(
		&link.ID, &link.OriginalURL, &link.ShortCode, &link.IsActive, &expires, &link.MaxClicks,
		&link.TotalClicks, &link.UniqueClicks, &link.QRCode, &created, &updated,
	); err != nil {
		return nil, err
	}

	var err error
	if link.ExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	if link.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if link.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &link, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	// libSQL surfaces constraint failures as plain text.
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
