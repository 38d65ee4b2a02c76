package models

import (
	"encoding/json"
	"time"
)

// Device is a machine running an agent. Devices self-register on startup and
// refresh last_seen as they come online.
type Device struct {
	ID          string          `json:"id"`
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Platform    *string         `json:"platform,omitempty"`
	Hostname    *string         `json:"hostname,omitempty"`
	LastSeen    *time.Time      `json:"last_seen,omitempty"`
	Enabled     bool            `json:"enabled"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
