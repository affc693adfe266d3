package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// SQLStore persists audio records and stage results in SQLite or Postgres
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Options configures Open.
type Options struct {
	Driver          string // sqlite | postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	dialect := Dialect(opts.Driver)
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("%s DSN is required", dialect)
	}

	dsn := opts.DSN
	if dialect == DialectSQLite && dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open handle and creates tables if they do not exist.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	for _, stmt := range dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect reports the SQL flavor in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

const recordColumns = `id, original_filename, stored_filename, file_path, size_bytes, duration_seconds,
	format, status, error_message, created_at, updated_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.AudioRecord, error) {
	var (
		rec              types.AudioRecord
		status           string
		duration         sql.NullFloat64
		errMsg           sql.NullString
		created, updated int64
		processed        sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.OriginalFilename, &rec.StoredFilename, &rec.FilePath,
		&rec.SizeBytes, &duration, &rec.Format, &status, &errMsg, &created, &updated, &processed); err != nil {
		return nil, err
	}
	rec.Status = types.Status(status)
	if duration.Valid {
		d := duration.Float64
		rec.DurationSeconds = &d
	}
	if errMsg.Valid {
		m := errMsg.String
		rec.ErrorMessage = &m
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	if processed.Valid {
		p := time.Unix(0, processed.Int64).UTC()
		rec.ProcessedAt = &p
	}
	return &rec, nil
}

// Create inserts a new record in pending status and fills in its ID and timestamps.
func (s *SQLStore) Create(ctx context.Context, rec *types.AudioRecord) error {
	now := s.now().UTC()
	var duration sql.NullFloat64
	if rec.DurationSeconds != nil {
		duration = sql.NullFloat64{Float64: *rec.DurationSeconds, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO audio_records (original_filename, stored_filename, file_path, size_bytes,
			duration_seconds, format, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		rec.OriginalFilename, rec.StoredFilename, rec.FilePath, rec.SizeBytes,
		duration, rec.Format, string(types.StatusPending), now.UnixNano(), now.UnixNano(),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create audio record: %w", err)
	}

	rec.Status = types.StatusPending
	rec.ErrorMessage = nil
	rec.ProcessedAt = nil
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// Get retrieves a record by ID.
func (s *SQLStore) Get(ctx context.Context, id int64) (*types.AudioRecord, error) {
	return s.get(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) get(ctx context.Context, q querier, id int64) (*types.AudioRecord, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+recordColumns+` FROM audio_records WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio record: %w", err)
	}
	return rec, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status types.Status // empty means any
	Limit  int
	Offset int
}

// List returns records newest first along with the total matching count.
func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]types.AudioRecord, int, error) {
	where := ""
	var args []any
	if f.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(f.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM audio_records`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audio records: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+recordColumns+` FROM audio_records`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audio records: %w", err)
	}
	defer rows.Close()

	records := []types.AudioRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audio record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

// CountByStatus returns how many records are in each status.
func (s *SQLStore) CountByStatus(ctx context.Context) (map[types.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM audio_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.Status(status)] = n
	}
	return counts, rows.Err()
}

// BeginRun moves a record to processing, clears its terminal fields and drops
// results from any previous run, all in one transaction.
func (s *SQLStore) BeginRun(ctx context.Context, id int64) (*types.AudioRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixNano()
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE audio_records
		SET status = ?, error_message = NULL, processed_at = NULL, updated_at = ?
		WHERE id = ?`),
		string(types.StatusProcessing), now, id)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM stage_results WHERE audio_id = ?`), id); err != nil {
		return nil, fmt.Errorf("clear stage results: %w", err)
	}

	rec, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run start: %w", err)
	}
	return rec, nil
}

// Finish writes the terminal status. errMsg must be set exactly when status is failed.
func (s *SQLStore) Finish(ctx context.Context, id int64, status types.Status, errMsg *string) (*types.AudioRecord, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish: %q is not a terminal status", status)
	}
	if (status == types.StatusFailed) != (errMsg != nil) {
		return nil, fmt.Errorf("finish: error message must accompany failed status only")
	}

	var msg sql.NullString
	if errMsg != nil {
		msg = sql.NullString{String: *errMsg, Valid: true}
	}

	now := s.now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE audio_records
		SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		WHERE id = ?`),
		string(status), msg, now, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.ErrNotFound
	}
	return s.Get(ctx, id)
}

// ListStale returns records stuck in processing whose last write is older than before.
func (s *SQLStore) ListStale(ctx context.Context, before time.Time) ([]types.AudioRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+recordColumns+` FROM audio_records WHERE status = ? AND updated_at < ? ORDER BY updated_at`),
		string(types.StatusProcessing), before.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	defer rows.Close()

	var records []types.AudioRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Delete removes a record and every stage result it owns.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM stage_results WHERE audio_id = ?`), id); err != nil {
		return fmt.Errorf("delete stage results: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM audio_records WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete audio record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	return tx.Commit()
}
