package daemon

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"fourcat/internal/config"
)

// CheckResult reports the outcome of a single preflight check.
type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// Preflight checks that every configured directory is usable and the queue
// database is healthy.
func (d *Daemon) Preflight(ctx context.Context) []CheckResult {
	results := CheckDirectories(d.cfg)

	health, err := d.store.CheckHealth(ctx)
	switch {
	case err != nil:
		results = append(results, CheckResult{Name: "Queue database", Detail: err.Error()})
	case !health.IntegrityCheck || len(health.MissingColumns) > 0:
		results = append(results, CheckResult{Name: "Queue database", Detail: fmt.Sprintf("%s (integrity %t, missing columns %v)", health.DBPath, health.IntegrityCheck, health.MissingColumns)})
	default:
		results = append(results, CheckResult{Name: "Queue database", Passed: true, Detail: fmt.Sprintf("%s (schema v%d)", health.DBPath, health.SchemaVersion)})
	}
	return results
}

// CheckDirectories runs CheckDirectoryAccess for every configured directory.
func CheckDirectories(cfg *config.Config) []CheckResult {
	if cfg == nil {
		return nil
	}
	return []CheckResult{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Results directory", cfg.Paths.ResultsDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) CheckResult {
	if path == "" {
		return CheckResult{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return CheckResult{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}
