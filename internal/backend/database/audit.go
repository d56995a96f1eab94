package database

import (
	"time"

	"github.com/jo-hoe/tgforge/internal/quality"
)

// AuditRecord is one audited image. It is also the JSONL report line format.
type AuditRecord struct {
	ID   string `db:"id" json:"id"`     // SHA-256 of the file content
	Path string `db:"path" json:"path"` // path as seen by the auditor
	quality.Metrics
	Decision  quality.Decision `db:"decision" json:"decision"`
	Reasons   []string         `db:"reasons" json:"reasons"`
	AuditedAt time.Time        `db:"audited_at" json:"audited_at"`
	Rank      string           `db:"rank" json:"-"` // LexoRank position within the review queue
}
