// Package store provides the PostgreSQL persistence layer. Each entity
// gets its own repository over a shared sqlx handle; optimistic version
// checks guard every status transition.
package store

import (
	"github.com/jmoiron/sqlx"
)

// Store bundles all repositories over one database handle.
type Store struct {
	db *sqlx.DB

	Gates       *GateStore
	Sessions    *SessionStore
	Escalations *EscalationStore
	Exemplars   *ExemplarStore
	Jobs        *JobStore
	Audit       *AuditStore
	Projects    *ProjectStore
	Clients     *ClientStore
	Snapshots   *SnapshotStore
}

// New creates a Store with all repositories wired to db.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:          db,
		Gates:       NewGateStore(db),
		Sessions:    NewSessionStore(db),
		Escalations: NewEscalationStore(db),
		Exemplars:   NewExemplarStore(db),
		Jobs:        NewJobStore(db),
		Audit:       NewAuditStore(db),
		Projects:    NewProjectStore(db),
		Clients:     NewClientStore(db),
		Snapshots:   NewSnapshotStore(db),
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }
