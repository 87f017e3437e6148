package storage

import (
	"context"
	"errors"
	"time"

	"jremap/internal/mapping"
	"jremap/internal/signature"
)

var ErrNotFound = errors.New("not found")

// Record is one stored revision of a build's mapping. Snapshot is nil when
// the revision was stored without signatures.
type Record struct {
	Version    string
	Revision   int
	Parent     string
	Provenance string
	CreatedAt  time.Time
	Mapping    *mapping.Mapping
	Snapshot   *signature.Table
}

// Revision summarizes a stored revision without its payload.
type Revision struct {
	Version    string    `json:"version"`
	Revision   int       `json:"revision"`
	Parent     string    `json:"parent,omitempty"`
	Provenance string    `json:"provenance"`
	Resolved   int       `json:"resolved"`
	Unresolved int       `json:"unresolved"`
	CreatedAt  time.Time `json:"created_at"`
}

type VersionInfo struct {
	Version   string    `json:"version"`
	Revisions int       `json:"revisions"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionStore keeps every mapping ever produced. Nothing stored is ever
// changed; corrections are new revisions.
type VersionStore interface {
	// Put appends a revision for version and returns its number.
	Put(ctx context.Context, version string, m *mapping.Mapping, snapshot *signature.Table) (int, error)

	// Get returns the latest revision of version.
	Get(ctx context.Context, version string) (*Record, error)

	GetRevision(ctx context.Context, version string, revision int) (*Record, error)

	// Revisions lists the revisions of version, oldest first.
	Revisions(ctx context.Context, version string) ([]Revision, error)

	// Versions lists every stored version, most recently written last.
	Versions(ctx context.Context) ([]VersionInfo, error)

	// Head returns the latest revision of the most recently written version.
	Head(ctx context.Context) (*Record, error)

	Close() error
}
