package artifact

import (
	"time"

	"mysql-porter/internal/dump"
)

// Manifest describes one finished export for reporting.
type Manifest struct {
	ID          string           `json:"id" yaml:"id"`
	Database    string           `json:"database" yaml:"database"`
	Location    string           `json:"location" yaml:"location"`
	Token       string           `json:"token,omitempty" yaml:"token,omitempty"`
	Remote      bool             `json:"remote" yaml:"remote"`
	Compression string           `json:"compression" yaml:"compression"`
	Tables      []dump.TableStat `json:"tables" yaml:"tables"`
	Rows        int64            `json:"rows" yaml:"rows"`
	Bytes       int64            `json:"bytes" yaml:"bytes"`
	Stored      int64            `json:"stored_bytes" yaml:"stored_bytes"`
	Parts       int              `json:"parts" yaml:"parts"`
	Checksum    string           `json:"sha256" yaml:"sha256"`
	StartedAt   time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time        `json:"finished_at" yaml:"finished_at"`
}

// NewManifest builds the manifest of a completed export.
func NewManifest(id, database string, remote bool, compression string, result *dump.Result) *Manifest {
	m := &Manifest{
		ID:          id,
		Database:    database,
		Remote:      remote,
		Compression: compression,
	}
	if result == nil {
		return m
	}
	m.Location = result.Location
	m.Tables = result.Tables
	m.Rows = result.Rows
	m.Bytes = result.BytesWritten
	m.Stored = result.BytesFlushed
	m.Parts = result.Chunks
	m.Checksum = result.Checksum
	m.StartedAt = result.StartedAt
	m.FinishedAt = result.FinishedAt
	return m
}

// Duration is the wall time of the export
func (m *Manifest) Duration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

// IgnoredTables lists tables whose data was skipped by policy
func (m *Manifest) IgnoredTables() []string {
	var names []string
	for _, t := range m.Tables {
		if t.Ignored {
			names = append(names, t.Name)
		}
	}
	return names
}
