// Package backup wraps the restic CLI and drives backup run execution.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/voidmesh/backhaul/internal/models"
)

// ErrEngineNotFound is returned when the restic binary cannot be located.
var ErrEngineNotFound = errors.New("restic binary not found in PATH")

// EngineConfig carries the repository settings the engine reads from its
// environment.
type EngineConfig struct {
	Repository string
	Password   string
	CacheDir   string
	Env        map[string]string
}

// Result holds the outcome of a finished engine invocation. ExitCode is zero
// on success; stdout and stderr are captured in full so runs can preserve
// them for diagnostics.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Restic wraps the restic CLI for backup operations.
type Restic struct {
	binary string
	logger zerolog.Logger
}

// NewRestic creates a Restic wrapper, resolving the binary through PATH. The
// binary must exist at construction time so a misconfigured host fails at
// startup rather than on the first scheduled run.
func NewRestic(logger zerolog.Logger) (*Restic, error) {
	path, err := exec.LookPath("restic")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotFound, err)
	}
	return NewResticWithBinary(path, logger), nil
}

// NewResticWithBinary creates a Restic wrapper with an explicit binary path.
func NewResticWithBinary(binary string, logger zerolog.Logger) *Restic {
	return &Restic{
		binary: binary,
		logger: logger.With().Str("component", "restic").Logger(),
	}
}

// Backup runs "restic backup" for the given job. A non-nil error means the
// process could not be started at all; a non-zero exit code is reported
// through the Result instead.
func (r *Restic) Backup(ctx context.Context, cfg EngineConfig, job *models.BackupJob) (*Result, error) {
	args := buildBackupArgs(job)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("RESTIC_REPOSITORY=%s", cfg.Repository),
		fmt.Sprintf("RESTIC_PASSWORD=%s", cfg.Password),
	)
	if cfg.CacheDir != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("RESTIC_CACHE_DIR=%s", cfg.CacheDir))
	}
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().
		Str("command", r.binary).
		Strs("args", args).
		Msg("executing restic backup")

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("start restic: %w", err)
		}
		return &Result{
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
		}, nil
	}

	return &Result{
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// buildBackupArgs assembles the backup command line: source paths, excludes,
// tags, then any operator-supplied passthrough arguments.
func buildBackupArgs(job *models.BackupJob) []string {
	args := []string{"backup", "--json"}
	args = append(args, job.SourcePaths...)

	for _, pattern := range job.ExcludePatterns {
		args = append(args, "--exclude", pattern)
	}

	for _, tag := range job.EngineTags() {
		args = append(args, "--tag", tag)
	}
	for _, tag := range job.Tags {
		args = append(args, "--tag", tag)
	}

	args = append(args, job.EngineArgs...)
	return args
}
