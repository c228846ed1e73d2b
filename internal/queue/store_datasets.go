package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fourcat/internal/services"
)

// ErrInvalidTransition is returned when a dataset update would move its status
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid dataset status transition")

// CreateDataset inserts a dataset, or returns the stored row unchanged when the
// key already exists.
func (s *Store) CreateDataset(ctx context.Context, ds *Dataset) (*Dataset, error) {
	if ds == nil || strings.TrimSpace(ds.Key) == "" {
		return nil, errors.New("create dataset: key is required")
	}
	if strings.TrimSpace(ds.Type) == "" {
		return nil, errors.New("create dataset: type is required")
	}
	status := ds.Status
	if status == "" {
		status = StatusCreated
	}
	params, err := encodeMap(ds.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode dataset parameters: %w", err)
	}
	now := s.clock().UnixNano()

	var stored *Dataset
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO datasets (key, job_type, parameters_json, status, status_message, input_path,
                 result_location, row_count, parent_key, software_version, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(key) DO NOTHING`,
			ds.Key, ds.Type, params, string(status), ds.StatusMessage, ds.InputPath,
			ds.ResultLocation, ds.RowCount, nullableString(ds.ParentKey), ds.SoftwareVersion, now, now,
		); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE key = ?`, ds.Key)
		var scanErr error
		stored, scanErr = scanDataset(row)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	return stored, nil
}

// GetDataset fetches a dataset by key, returning nil when absent.
func (s *Store) GetDataset(ctx context.Context, key string) (*Dataset, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+datasetColumns+` FROM datasets WHERE key = ?`, key)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

// RequireDataset is GetDataset but reports a missing dataset as services.ErrNotFound.
func (s *Store) RequireDataset(ctx context.Context, key string) (*Dataset, error) {
	ds, err := s.GetDataset(ctx, key)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("dataset %q: %w", key, services.ErrNotFound)
	}
	return ds, nil
}

// ListDatasets returns datasets newest first.
func (s *Store) ListDatasets(ctx context.Context, filter DatasetFilter) ([]*Dataset, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, filter.Type)
	}
	if filter.ParentKey != "" {
		clauses = append(clauses, "parent_key = ?")
		args = append(args, filter.ParentKey)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query := `SELECT ` + datasetColumns + ` FROM datasets`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, key`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}

// ChildrenOf returns the datasets produced by fan-out from key.
func (s *Store) ChildrenOf(ctx context.Context, key string) ([]*Dataset, error) {
	if key == "" {
		return nil, nil
	}
	return s.ListDatasets(ctx, DatasetFilter{ParentKey: key})
}

// UpdateDataset persists the mutable fields of ds. The status change is
// checked against the stored status inside the same transaction.
func (s *Store) UpdateDataset(ctx context.Context, ds *Dataset) error {
	if ds == nil {
		return errors.New("update dataset: nil dataset")
	}
	if _, ok := ParseStatus(string(ds.Status)); !ok {
		return fmt.Errorf("update dataset %s: unknown status %q", ds.Key, ds.Status)
	}
	params, err := encodeMap(ds.Parameters)
	if err != nil {
		return fmt.Errorf("encode dataset parameters: %w", err)
	}
	now := s.clock()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		var finishedAt int64
		if err := tx.QueryRowContext(ctx, `SELECT status, finished_at FROM datasets WHERE key = ?`, ds.Key).Scan(&current, &finishedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("dataset %q: %w", ds.Key, services.ErrNotFound)
			}
			return err
		}
		from := Status(current)
		if !CanTransition(from, ds.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, ds.Status)
		}
		if ds.Status.Terminal() && finishedAt == 0 {
			finishedAt = now.UnixNano()
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE datasets SET parameters_json = ?, status = ?, status_message = ?, result_location = ?,
                 row_count = ?, software_version = ?, updated_at = ?, finished_at = ?
             WHERE key = ?`,
			params, string(ds.Status), ds.StatusMessage, ds.ResultLocation,
			ds.RowCount, ds.SoftwareVersion, now.UnixNano(), finishedAt, ds.Key,
		)
		if err != nil {
			return err
		}
		ds.UpdatedAt = now
		ds.FinishedAt = fromUnixNano(finishedAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update dataset %s: %w", ds.Key, err)
	}
	return nil
}
