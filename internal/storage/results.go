package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// UpsertResult stores the result for (audio_id, stage), replacing any earlier
// one in a single statement. The owning record's updated_at is bumped in the
// same transaction so long runs do not look stale.
func (s *SQLStore) UpsertResult(ctx context.Context, res *types.StageResult) error {
	if !res.Stage.Valid() {
		return fmt.Errorf("upsert result: unknown stage %q", res.Stage)
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = s.now().UTC()
	}

	var payload, detail sql.NullString
	if res.Payload != nil {
		payload = sql.NullString{String: string(res.Payload), Valid: true}
	}
	if res.ErrorDetail != "" {
		detail = sql.NullString{String: res.ErrorDetail, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO stage_results (audio_id, stage, status, payload, error_detail, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (audio_id, stage) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			error_detail = excluded.error_detail,
			attempts = excluded.attempts,
			created_at = excluded.created_at`),
		res.AudioID, string(res.Stage), string(res.Status), payload, detail, res.Attempts, res.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert %s result: %w", res.Stage, err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE audio_records SET updated_at = ? WHERE id = ?`),
		s.now().UTC().UnixNano(), res.AudioID); err != nil {
		return fmt.Errorf("touch audio record: %w", err)
	}
	return tx.Commit()
}

const resultColumns = `audio_id, stage, status, payload, error_detail, attempts, created_at`

func scanResult(row rowScanner) (*types.StageResult, error) {
	var (
		res             types.StageResult
		stage, status   string
		payload, detail sql.NullString
		created         int64
	)
	if err := row.Scan(&res.AudioID, &stage, &status, &payload, &detail, &res.Attempts, &created); err != nil {
		return nil, err
	}
	res.Stage = types.StageKind(stage)
	res.Status = types.ResultStatus(status)
	if payload.Valid {
		res.Payload = []byte(payload.String)
	}
	res.ErrorDetail = detail.String
	res.CreatedAt = time.Unix(0, created).UTC()
	return &res, nil
}

// GetResult returns the stored result for one stage. ok is false when none exists.
func (s *SQLStore) GetResult(ctx context.Context, audioID int64, stage types.StageKind) (*types.StageResult, bool, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+resultColumns+` FROM stage_results WHERE audio_id = ? AND stage = ?`),
		audioID, string(stage))
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s result: %w", stage, err)
	}
	return res, true, nil
}

// GetAll returns every stored result for a record keyed by stage.
func (s *SQLStore) GetAll(ctx context.Context, audioID int64) (map[types.StageKind]*types.StageResult, error) {
	return s.getAll(ctx, s.db, audioID)
}

func (s *SQLStore) getAll(ctx context.Context, q querier, audioID int64) (map[types.StageKind]*types.StageResult, error) {
	rows, err := q.QueryContext(ctx, s.q(`SELECT `+resultColumns+` FROM stage_results WHERE audio_id = ?`), audioID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage results: %w", err)
	}
	defer rows.Close()

	results := make(map[types.StageKind]*types.StageResult)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		results[res.Stage] = res
	}
	return results, rows.Err()
}

// Snapshot reads a record and its results in one read transaction so the
// pair is consistent even while a run is writing.
func (s *SQLStore) Snapshot(ctx context.Context, audioID int64) (*types.AudioRecord, map[types.StageKind]*types.StageResult, error) {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.get(ctx, tx, audioID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.getAll(ctx, tx, audioID)
	if err != nil {
		return nil, nil, err
	}
	return rec, results, tx.Commit()
}
