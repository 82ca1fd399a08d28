package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers/scoring"
)

// ScoreProvider ist das Interface zum Relevanz-Scoring-Webservice.
type ScoreProvider interface {
	GetScore(ctx context.Context, title, abstract string) (float64, error)
}

// ScoreService holt für alle noch ungescorten Artikel einer Query den
// Relevanz-Score. Nur Artikel mit Titel und Abstract sind Kandidaten; wer
// schon einen Score hat, wird nie erneut an den Webservice geschickt.
type ScoreService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Provider ScoreProvider
	Errors   *ErrorSink
}

// NewScoreService erstellt eine neue Instanz des ScoreService.
func NewScoreService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, provider ScoreProvider) *ScoreService {
	return &ScoreService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Provider: provider,
		Errors:   NewErrorSink(db, logger),
	}
}

type scoreCandidate struct {
	PMID     int64 `gorm:"column:pmid"`
	Title    string
	Abstract string
}

// Run führt die Scoring-Stage für eine Query aus und gibt die Anzahl neu
// gespeicherter Scores zurück.
func (s *ScoreService) Run(ctx context.Context, queryID uint) (int, error) {
	log := s.Logger.With(zap.Uint("query_id", queryID))

	var candidates []scoreCandidate
	err := s.DB.Raw(`
		select pmid, title, abstract from article_data
		where title <> '' and abstract <> ''
		and pmid in (select pmid from result_ids where query_id = ?)
		and pmid not in (select pmid from scores)`, queryID).Scan(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("load score candidates: %w", err)
	}
	log.Info("Scoring-Stage gestartet", zap.Int("candidates", len(candidates)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	semaphore := make(chan struct{}, s.Config.StageWorkers)

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(cand scoreCandidate) {
			defer wg.Done()
			defer func() { <-semaphore }()

			value, err := s.Provider.GetScore(ctx, cand.Title, cand.Abstract)
			if err != nil {
				kind := models.ErrKindTransportFailure
				switch {
				case errors.Is(err, scoring.ErrBadShape):
					kind = models.ErrKindScoreBadShape
				case errors.Is(err, scoring.ErrMalformed):
					kind = models.ErrKindScoreMalformed
				}
				s.Errors.Record(queryID, int64Ptr(cand.PMID), kind, "",
					fmt.Sprintf("(score) %v", err))
				return
			}

			res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.Score{PMID: cand.PMID, Score: value})
			if res.Error != nil {
				log.Error("Konnte Score nicht schreiben", zap.Int64("pmid", cand.PMID), zap.Error(res.Error))
				return
			}
			if res.RowsAffected > 0 {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}(cand)
	}

	wg.Wait()
	log.Info("Scoring-Stage abgeschlossen", zap.Int("scores_stored", stored))
	return stored, nil
}
