package services

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/models"
)

// ErrorSink ist die gemeinsame Senke aller Stages für Fehler-Records.
// Schreiben statt Abbrechen: ein fehlgeschlagenes Item landet hier und die
// Stage macht mit dem nächsten weiter. Der Unique-Index auf
// (query_id, pmid, kind) macht wiederholte identische Fehler zu No-ops.
type ErrorSink struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewErrorSink erstellt eine neue Fehler-Senke.
func NewErrorSink(db *gorm.DB, logger *zap.Logger) *ErrorSink {
	return &ErrorSink{DB: db, Logger: logger}
}

// Record schreibt einen Fehler-Record. pmid darf nil sein, wenn das Item keine
// parsebare PMID hatte; dann identifiziert objectID das Item seitenlokal.
func (s *ErrorSink) Record(queryID uint, pmid *int64, kind, objectID, comment string) {
	rec := models.ErrorRecord{
		QueryID:  queryID,
		PMID:     pmid,
		Kind:     kind,
		ObjectID: objectID,
		Comment:  comment,
	}
	if err := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		s.Logger.Error("Konnte Fehler-Record nicht schreiben",
			zap.Uint("query_id", queryID), zap.String("kind", kind), zap.Error(err))
	}
}

// int64Ptr gibt einen Pointer auf eine PMID zurück.
func int64Ptr(v int64) *int64 {
	return &v
}
