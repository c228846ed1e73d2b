package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Stats returns live job counts grouped by type, sorted by type.
func (s *Store) Stats(ctx context.Context) ([]TypeStats, error) {
	now := s.clock().UnixNano()
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT job_type,
                SUM(CASE WHEN claimed = 0 AND claim_after <= ? THEN 1 ELSE 0 END),
                SUM(CASE WHEN claimed = 0 AND claim_after > ? THEN 1 ELSE 0 END),
                SUM(CASE WHEN claimed = 1 THEN 1 ELSE 0 END)
         FROM jobs GROUP BY job_type`, now, now)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats []TypeStats
	for rows.Next() {
		var entry TypeStats
		if err := rows.Scan(&entry.Type, &entry.Queued, &entry.Delayed, &entry.Claimed); err != nil {
			return nil, err
		}
		stats = append(stats, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Type < stats[j].Type })
	return stats, nil
}

// DatasetCounts returns the number of datasets in each status.
func (s *Store) DatasetCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM datasets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("dataset counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

var expectedColumns = map[string][]string{
	"jobs": {
		"id", "job_type", "details_json", "remote_id", "created_at", "claimed",
		"claimed_at", "last_claimed_at", "claim_after", "interval_ns", "attempts",
	},
	"datasets": {
		"key", "job_type", "parameters_json", "status", "status_message", "input_path",
		"result_location", "row_count", "parent_key", "software_version",
		"created_at", "updated_at", "finished_at",
	},
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	tables := make([]string, 0, len(expectedColumns))
	for table := range expectedColumns {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		columns, err := s.tableColumns(connCtx, table)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		if len(columns) == 0 {
			health.MissingColumns = append(health.MissingColumns, table+".*")
			continue
		}
		health.TablesPresent = append(health.TablesPresent, table)
		for _, col := range expectedColumns[table] {
			if _, ok := columns[col]; !ok {
				health.MissingColumns = append(health.MissingColumns, table+"."+col)
			}
		}
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM datasets").Scan(&health.TotalDatasets); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count datasets: %w", err)
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		columns[name] = struct{}{}
	}
	return columns, rows.Err()
}
