package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const jobColumns = "id, job_type, details_json, remote_id, created_at, claimed, claimed_at, last_claimed_at, claim_after, interval_ns, attempts"

const datasetColumns = "key, job_type, parameters_json, status, status_message, input_path, result_location, row_count, parent_key, software_version, created_at, updated_at, finished_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job           Job
		detailsRaw    string
		remoteID      sql.NullString
		createdAt     int64
		claimed       int
		claimedAt     int64
		lastClaimedAt int64
		claimAfter    int64
		interval      int64
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Type,
		&detailsRaw,
		&remoteID,
		&createdAt,
		&claimed,
		&claimedAt,
		&lastClaimedAt,
		&claimAfter,
		&interval,
		&job.Attempts,
	); err != nil {
		return nil, err
	}

	details, err := decodeMap(detailsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode details of job %d: %w", job.ID, err)
	}
	job.Details = details
	job.RemoteID = remoteID.String
	job.Claimed = claimed != 0
	job.CreatedAt = fromUnixNano(createdAt)
	job.ClaimedAt = fromUnixNano(claimedAt)
	job.LastClaimedAt = fromUnixNano(lastClaimedAt)
	job.ClaimAfter = fromUnixNano(claimAfter)
	job.Interval = time.Duration(interval)
	return &job, nil
}

func scanDataset(scanner rowScanner) (*Dataset, error) {
	var (
		ds         Dataset
		paramsRaw  string
		status     string
		parentKey  sql.NullString
		createdAt  int64
		updatedAt  int64
		finishedAt int64
	)
	if err := scanner.Scan(
		&ds.Key,
		&ds.Type,
		&paramsRaw,
		&status,
		&ds.StatusMessage,
		&ds.InputPath,
		&ds.ResultLocation,
		&ds.RowCount,
		&parentKey,
		&ds.SoftwareVersion,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	params, err := decodeMap(paramsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode parameters of dataset %s: %w", ds.Key, err)
	}
	ds.Parameters = params
	ds.Status = Status(status)
	ds.ParentKey = parentKey.String
	ds.CreatedAt = fromUnixNano(createdAt)
	ds.UpdatedAt = fromUnixNano(updatedAt)
	ds.FinishedAt = fromUnixNano(finishedAt)
	return &ds, nil
}

func encodeMap[M ~map[string]any](value M) (string, error) {
	if value == nil {
		return "{}", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMap(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(0, value).UTC()
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
