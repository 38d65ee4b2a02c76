// Package models defines the shared data types stored in the central
// database: devices, backup jobs, schedules and runs.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BackupJob describes what to back up on a device. Jobs are managed
// externally; the agent only reads them.
type BackupJob struct {
	ID              uuid.UUID  `json:"id"`
	DeviceID        string     `json:"device_id"`
	Name            string     `json:"name"`
	SourcePaths     []string   `json:"source_paths"`
	ExcludePatterns []string   `json:"exclude_patterns,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	EngineArgs      []string   `json:"engine_args,omitempty"`
	Enabled         bool       `json:"enabled"`
	OriginName      *string    `json:"origin_name,omitempty"`
	OriginID        *uuid.UUID `json:"origin_id,omitempty"`
	AccountID       *uuid.UUID `json:"account_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EngineTags returns the tags the agent attaches to every snapshot so runs
// can be traced back to their job. User tags come on top of these.
func (j *BackupJob) EngineTags() []string {
	tags := []string{
		fmt.Sprintf("backup:%s", j.ID),
		fmt.Sprintf("backup_name=%s", j.Name),
	}
	if j.OriginName != nil && *j.OriginName != "" {
		tags = append(tags, fmt.Sprintf("origin=%s", *j.OriginName))
	}
	if j.AccountID != nil {
		tags = append(tags, fmt.Sprintf("account_id=%s", j.AccountID))
	}
	return tags
}
