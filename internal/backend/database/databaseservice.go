package database

import (
	"database/sql"
	"errors"

	"github.com/jo-hoe/tgforge/internal/quality"
)

// ErrNotFound is returned when an audit record does not exist.
var ErrNotFound = errors.New("audit record not found")

// Direction moves an entry within the review queue.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// SaveAudit inserts or replaces the record keyed by its content ID.
	// Records entering the review decision are appended to the end of the review queue;
	// records that stay in review keep their queue position.
	SaveAudit(record *AuditRecord) error
	GetAudit(id string) (*AuditRecord, error)
	// ListAudits returns records ordered by path. An empty decision lists all records.
	ListAudits(decision quality.Decision) ([]*AuditRecord, error)
	DeleteAudit(id string) error
	CountByDecision() (map[quality.Decision]int, error)

	// ReviewQueue returns all records awaiting review in queue order.
	ReviewQueue() ([]*AuditRecord, error)
	MoveReview(id string, direction Direction) error
	SetDecision(id string, decision quality.Decision) error
}
