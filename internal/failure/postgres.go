package failure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"provisioner/internal/model"
)

const selectColumns = `orderref, error_message, failure_type, recorded_at, first_failure, retry_count, resolved, resolution_note, resolved_at, customer_data`

// PostgresStore is the shared-database alternative to FileStore for
// deployments running more than one instance.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.FailureRecord, error) {
	var (
		r          model.FailureRecord
		category   string
		resolvedAt sql.NullTime
		snapshot   []byte
	)
	err := row.Scan(&r.OrderRef, &r.ErrorMessage, &category, &r.Timestamp, &r.FirstFailure,
		&r.RetryCount, &r.Resolved, &r.ResolutionNote, &resolvedAt, &snapshot)
	if err != nil {
		return r, err
	}

	r.Category = model.FailureCategory(category)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedTimestamp = &t
	}
	if len(snapshot) > 0 {
		var req model.AccountCreationRequest
		if err := json.Unmarshal(snapshot, &req); err != nil {
			return r, fmt.Errorf("decode snapshot for %s: %w", r.OrderRef, err)
		}
		r.Snapshot = &req
	}
	return r, nil
}

// upsertFailure merges a repeat failure inside the statement itself, so
// concurrent writers on the same ref each add one to retry_count.
const upsertFailure = `
	INSERT INTO failures (orderref, error_message, failure_type, recorded_at, first_failure, retry_count, resolved, resolution_note, resolved_at, customer_data)
	VALUES ($1, $2, $3, $4, $4, 0, FALSE, '', NULL, $5)
	ON CONFLICT (orderref) DO UPDATE SET
		error_message = EXCLUDED.error_message,
		failure_type = EXCLUDED.failure_type,
		recorded_at = EXCLUDED.recorded_at,
		first_failure = failures.first_failure,
		retry_count = failures.retry_count + 1,
		resolved = FALSE,
		resolution_note = '',
		resolved_at = NULL,
		customer_data = COALESCE(EXCLUDED.customer_data, failures.customer_data)
	RETURNING retry_count`

func (s *PostgresStore) RecordFailure(ctx context.Context, ref, message string, category model.FailureCategory, snapshot *model.AccountCreationRequest) (string, error) {
	now := s.now()
	key := keyFor(ref, now)
	if key != ref {
		slog.Warn("no order reference on failure, using synthetic key", "key", key)
	}

	var data any
	if snapshot != nil {
		b, err := json.Marshal(snapshot)
		if err != nil {
			return "", fmt.Errorf("encode snapshot: %w", err)
		}
		data = b
	}

	var retries int
	err := s.db.QueryRowContext(ctx, upsertFailure, key, message, string(category), now, data).Scan(&retries)
	if err != nil {
		return "", fmt.Errorf("upsert failure %s: %w", key, err)
	}

	slog.Error("failure recorded", "orderref", key, "type", category, "error", message, "retry_count", retries)
	return key, nil
}

func (s *PostgresStore) ListFailures(ctx context.Context, includeResolved bool) ([]model.FailureRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM failures`
	if !includeResolved {
		query += ` WHERE NOT resolved`
	}
	query += ` ORDER BY recorded_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	list := []model.FailureRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Get(ctx context.Context, ref string) (*model.FailureRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM failures WHERE orderref = $1`, ref)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failure %s: %w", ref, err)
	}
	return &r, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, ref, note string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE failures SET resolved = TRUE, resolved_at = $2, resolution_note = $3 WHERE orderref = $1`,
		ref, s.now(), note)
	if err != nil {
		return false, fmt.Errorf("resolve failure %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve failure %s: %w", ref, err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ref string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failures WHERE orderref = $1`, ref)
	if err != nil {
		return false, fmt.Errorf("delete failure %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete failure %s: %w", ref, err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (model.FailureStats, error) {
	list, err := s.ListFailures(ctx, true)
	if err != nil {
		return model.FailureStats{}, err
	}
	return model.ComputeStats(list), nil
}

func (s *PostgresStore) CleanupResolvedOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, ErrInvalidAge
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM failures WHERE resolved AND COALESCE(resolved_at, recorded_at) < $1`,
		cutoff(s.now(), days))
	if err != nil {
		return 0, fmt.Errorf("cleanup failures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup failures: %w", err)
	}
	if n > 0 {
		slog.Info("cleaned up resolved failures", "removed", n)
	}
	return int(n), nil
}
