package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNoSummary is returned when the engine output contains no summary line.
var ErrNoSummary = errors.New("no summary message found in engine output")

// ErrNoSnapshotID is returned when the summary line carries no snapshot ID.
// A run is never considered successful without one.
var ErrNoSnapshotID = errors.New("no snapshot_id in summary")

// Stats contains the statistics reported by the engine's terminal summary
// message.
type Stats struct {
	FilesNew            int    `json:"files_new"`
	FilesChanged        int    `json:"files_changed"`
	FilesUnmodified     int    `json:"files_unmodified"`
	DirsNew             int    `json:"dirs_new"`
	DirsChanged         int    `json:"dirs_changed"`
	DirsUnmodified      int    `json:"dirs_unmodified"`
	DataAddedBytes      int64  `json:"data_added_bytes"`
	TotalFilesProcessed int    `json:"total_files_processed"`
	TotalBytesProcessed int64  `json:"total_bytes_processed"`
	SnapshotID          string `json:"snapshot_id"`
}

// engineSummary mirrors the JSON shape of restic's backup --json summary
// line. SnapshotID is a pointer so a missing field can be told apart from an
// empty one.
type engineSummary struct {
	FilesNew            int     `json:"files_new"`
	FilesChanged        int     `json:"files_changed"`
	FilesUnmodified     int     `json:"files_unmodified"`
	DirsNew             int     `json:"dirs_new"`
	DirsChanged         int     `json:"dirs_changed"`
	DirsUnmodified      int     `json:"dirs_unmodified"`
	DataAdded           int64   `json:"data_added"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          *string `json:"snapshot_id"`
}

// ParseSummary extracts backup statistics from the engine's captured stdout.
// The output is one JSON object per line: progress and status messages
// interleaved with a single terminal summary. Lines that do not parse even to
// a message-type shape are skipped so unknown future message kinds stay
// harmless. The first summary line wins; anything after it is ignored.
func ParseSummary(output []byte, logger zerolog.Logger) (*Stats, error) {
	for _, line := range bytes.Split(output, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var msg struct {
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Debug().Err(err).Bytes("line", line).Msg("skipping unparsable engine output line")
			continue
		}

		if msg.MessageType != "summary" {
			continue
		}

		var summary engineSummary
		if err := json.Unmarshal(line, &summary); err != nil {
			return nil, fmt.Errorf("parse summary: %w", err)
		}

		if summary.SnapshotID == nil || *summary.SnapshotID == "" {
			return nil, ErrNoSnapshotID
		}

		return &Stats{
			FilesNew:            summary.FilesNew,
			FilesChanged:        summary.FilesChanged,
			FilesUnmodified:     summary.FilesUnmodified,
			DirsNew:             summary.DirsNew,
			DirsChanged:         summary.DirsChanged,
			DirsUnmodified:      summary.DirsUnmodified,
			DataAddedBytes:      summary.DataAdded,
			TotalFilesProcessed: summary.TotalFilesProcessed,
			TotalBytesProcessed: summary.TotalBytesProcessed,
			SnapshotID:          *summary.SnapshotID,
		}, nil
	}

	return nil, ErrNoSummary
}
