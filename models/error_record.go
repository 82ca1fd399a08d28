package models

import (
	"time"
)

// Fehler-Arten, die von den Stages in error_records geschrieben werden.
const (
	ErrKindMalformedResult     = "malformed_result"
	ErrKindQueryPageFailed     = "query_page_failed"
	ErrKindScoreMalformed      = "score_malformed"
	ErrKindScoreBadShape       = "score_bad_shape"
	ErrKindResolverUnavailable = "resolver_unavailable"
	ErrKindPageUnrecognized    = "page_unrecognized"
	ErrKindPageUnclassified    = "page_unclassified"
	ErrKindNoViableURL         = "no_viable_url"
	ErrKindTooManyRedirects    = "too_many_redirects"
	ErrKindTransportFailure    = "transport_failure"
)

// ErrorRecord ist eine Zeile im Fehler-Log. Stages schreiben hierher statt
// den Batch abzubrechen. Bei bekannter PMID dedupliziert der Unique-Index
// (query_id, pmid, kind) wiederholte identische Fehler über Läufe hinweg;
// Zeilen ohne PMID (nur ObjectID) bleiben Append-only.
type ErrorRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	QueryID uint   `json:"query_id" gorm:"index;uniqueIndex:idx_error_dedup"`
	PMID    *int64 `json:"pmid,omitempty" gorm:"column:pmid;uniqueIndex:idx_error_dedup"`
	Kind    string `json:"kind" gorm:"uniqueIndex:idx_error_dedup;size:64"`

	// ObjectID: seitenlokale ID des Result-Items, falls keine PMID parsebar war
	ObjectID string `json:"object_id,omitempty"`
	Comment  string `json:"comment" gorm:"type:text"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (ErrorRecord) TableName() string {
	return "error_records"
}
