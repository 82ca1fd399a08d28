package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/models"
)

// CorpusService verwaltet die Korpus-Identifier-Menge (ChEMBL-PMIDs) und setzt
// pro Query das dreiwertige in_chembl-Flag der Artikel. Das Tagging muss nach
// jedem Ingest-Lauf und nach jedem Refresh der Korpus-Menge erneut laufen.
type CorpusService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewCorpusService erstellt eine neue Instanz des CorpusService.
func NewCorpusService(db *gorm.DB, logger *zap.Logger) *CorpusService {
	return &CorpusService{DB: db, Logger: logger}
}

// Load übernimmt eine extern ermittelte PMID-Liste in die Korpus-Menge.
// Das ist die Grenze zum transaktionalen Quellsystem; woher die Liste kommt,
// ist hier bewusst egal. Bereits bekannte PMIDs sind No-ops.
func (s *CorpusService) Load(ctx context.Context, pmids []int64) (int, error) {
	loaded := 0
	for _, pmid := range pmids {
		if ctx.Err() != nil {
			return loaded, ctx.Err()
		}
		res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ChemblPMID{PMID: pmid})
		if res.Error != nil {
			return loaded, fmt.Errorf("load corpus pmid %d: %w", pmid, res.Error)
		}
		loaded += int(res.RowsAffected)
	}
	s.Logger.Info("Korpus-PMIDs geladen", zap.Int("submitted", len(pmids)), zap.Int("new", loaded))
	return loaded, nil
}

// Tag setzt in_chembl für alle über result_ids erreichbaren Artikel der Query:
// true für Treffer in der Korpus-Menge, false für den Rest. Reiner Bulk-Update
// ohne externe Calls, beliebig oft wiederholbar.
func (s *CorpusService) Tag(ctx context.Context, queryID uint) (int64, error) {
	log := s.Logger.With(zap.Uint("query_id", queryID))

	inCorpus := s.DB.WithContext(ctx).Exec(`
		update article_data set in_chembl = ?
		where pmid in (select pmid from result_ids where query_id = ?)
		and pmid in (select pmid from chembl_pmids)`, true, queryID)
	if inCorpus.Error != nil {
		return 0, fmt.Errorf("tag in-corpus records: %w", inCorpus.Error)
	}

	notInCorpus := s.DB.WithContext(ctx).Exec(`
		update article_data set in_chembl = ?
		where pmid in (select pmid from result_ids where query_id = ?)
		and pmid not in (select pmid from chembl_pmids)`, false, queryID)
	if notInCorpus.Error != nil {
		return 0, fmt.Errorf("tag out-of-corpus records: %w", notInCorpus.Error)
	}

	tagged := inCorpus.RowsAffected + notInCorpus.RowsAffected
	log.Info("Korpus-Tagging abgeschlossen",
		zap.Int64("in_corpus", inCorpus.RowsAffected),
		zap.Int64("not_in_corpus", notInCorpus.RowsAffected))
	return tagged, nil
}
