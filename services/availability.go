package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers/resolver"
)

// AccessResolver ist das Interface zum Link-Resolver.
type AccessResolver interface {
	Resolve(ctx context.Context, pmid int64) (*resolver.Page, error)
	SubmitForm(ctx context.Context, form resolver.FormParams) (string, error)
}

// AvailabilityService klärt für Artikel ohne freien Volltext, ob Campus-Zugang
// besteht oder der Weg über die Dokumentlieferung führt. Pro Artikel läuft ein
// kleiner Automat: Resolver-Seite holen (mit Retry-Budget), Seite
// klassifizieren, je nach Zweig Formulare abschicken und die erfolgreichen
// URLs persistieren. Jedes terminale Scheitern wird zum Fehler-Record, die
// Stage läuft immer weiter.
type AvailabilityService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Resolver AccessResolver
	Errors   *ErrorSink
}

// NewAvailabilityService erstellt eine neue Instanz des AvailabilityService.
func NewAvailabilityService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, res AccessResolver) *AvailabilityService {
	return &AvailabilityService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Resolver: res,
		Errors:   NewErrorSink(db, logger),
	}
}

// AvailabilityStats fasst einen Lauf der Availability-Stage zusammen.
type AvailabilityStats struct {
	Candidates  int `json:"candidates"`
	LinksStored int `json:"links_stored"`
	Errors      int `json:"errors"`
}

// Run führt die Availability-Stage für eine Query aus. Kandidaten sind
// Artikel der Query ohne article_links-Zeile, außerhalb des Korpus und ohne
// F/OA in den Verfügbarkeits-Codes. Artikel, die nur mit Fehler-Record
// endeten, bleiben für den nächsten Lauf Kandidaten.
func (s *AvailabilityService) Run(ctx context.Context, queryID uint) (*AvailabilityStats, error) {
	log := s.Logger.With(zap.Uint("query_id", queryID))

	var pmids []int64
	err := s.DB.Raw(`
		select pmid from article_data
		where ((avail_codes not like '%F%' and avail_codes not like '%OA%') or avail_codes is null or avail_codes = '')
		and pmid in (select pmid from result_ids where query_id = ?)
		and pmid not in (select pmid from article_links)
		and in_chembl = ?`, queryID, false).Scan(&pmids).Error
	if err != nil {
		return nil, fmt.Errorf("load availability candidates: %w", err)
	}

	stats := &AvailabilityStats{Candidates: len(pmids)}
	log.Info("Availability-Stage gestartet", zap.Int("candidates", len(pmids)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, s.Config.StageWorkers)

	for _, pmid := range pmids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(pmid int64) {
			defer wg.Done()
			defer func() { <-semaphore }()

			stored := s.resolveRecord(ctx, queryID, pmid)
			mu.Lock()
			if stored {
				stats.LinksStored++
			} else {
				stats.Errors++
			}
			mu.Unlock()
		}(pmid)
	}

	wg.Wait()
	log.Info("Availability-Stage abgeschlossen",
		zap.Int("links_stored", stats.LinksStored), zap.Int("errors", stats.Errors))
	return stats, nil
}

// resolveRecord durchläuft den Automaten für einen einzelnen Artikel.
// Rückgabe true, wenn eine article_links-Zeile geschrieben wurde.
func (s *AvailabilityService) resolveRecord(ctx context.Context, queryID uint, pmid int64) bool {
	log := s.Logger.With(zap.Uint("query_id", queryID), zap.Int64("pmid", pmid))

	page, err := s.Resolver.Resolve(ctx, pmid)
	if err != nil {
		if errors.Is(err, resolver.ErrUnavailable) {
			s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindResolverUnavailable, "",
				"(availability) no success status from resolver after all attempts")
			return false
		}
		// Verbindungsfehler: zusätzlich zum Log immer auch ein Fehler-Record.
		log.Warn("Resolver-Aufruf mit Transportfehler", zap.Error(err))
		s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindTransportFailure, "",
			fmt.Sprintf("(availability) transport failure: %v", err))
		return false
	}

	switch {
	case page.SaysNoFullText():
		// Dokumentlieferungs-Zweig
		return s.storeDocumentDelivery(ctx, queryID, pmid, page,
			"(availability) no request-access URL with success status")

	case page.NoServiceText():
		s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindPageUnrecognized, "",
			"(availability) resolver page has no service text, possibly a multi-object menu; check manually")
		return false

	case page.SaysRequestDocument():
		// Campus-Zweig, bei Leerlauf Fallback auf Dokumentlieferung
		return s.storeCampusAccess(ctx, queryID, pmid, page)

	default:
		s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindPageUnclassified, "",
			"(availability) neither marker phrase present, could not classify access page")
		return false
	}
}

// storeCampusAccess schickt die Volltext-Formulare ab und speichert die
// erfolgreichen URLs als campus_links. Liefert keines der Formulare eine URL,
// greift der Dokumentlieferungs-Zweig als Fallback.
func (s *AvailabilityService) storeCampusAccess(ctx context.Context, queryID uint, pmid int64, page *resolver.Page) bool {
	urls, err := s.submitForms(ctx, queryID, pmid, page.FullTextForms)
	if err != nil {
		return false // too_many_redirects, Record liegt schon vor
	}

	if len(urls) == 0 {
		return s.storeDocumentDelivery(ctx, queryID, pmid, page,
			"(availability) no viable URL in either branch")
	}

	return s.storeLinks(queryID, pmid, models.ArticleLink{
		PMID:        pmid,
		CampusLinks: strings.Join(urls, ", "),
	})
}

// storeDocumentDelivery schickt die Dokumentlieferungs-Formulare ab und
// speichert die erfolgreichen URLs als request_access.
func (s *AvailabilityService) storeDocumentDelivery(ctx context.Context, queryID uint, pmid int64, page *resolver.Page, emptyComment string) bool {
	urls, err := s.submitForms(ctx, queryID, pmid, page.DocumentDeliveryForms)
	if err != nil {
		return false
	}

	if len(urls) == 0 {
		s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindNoViableURL, "", emptyComment)
		return false
	}

	return s.storeLinks(queryID, pmid, models.ArticleLink{
		PMID:          pmid,
		RequestAccess: strings.Join(urls, ", "),
	})
}

// submitForms schickt alle Formulare ab und sammelt die URLs mit
// Erfolgs-Status. Eine Redirect-Schleife bricht den Artikel ab (Fehler-Record
// too_many_redirects); einzelne Transportfehler überspringen nur das Formular.
func (s *AvailabilityService) submitForms(ctx context.Context, queryID uint, pmid int64, forms []resolver.FormParams) ([]string, error) {
	var urls []string
	for _, form := range forms {
		url, err := s.Resolver.SubmitForm(ctx, form)
		if err != nil {
			if errors.Is(err, resolver.ErrTooManyRedirects) {
				s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindTooManyRedirects, "",
					"(availability) form submission ran into a redirect loop")
				return nil, err
			}
			s.Logger.Warn("Formular-Submission mit Transportfehler",
				zap.Int64("pmid", pmid), zap.Error(err))
			s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindTransportFailure, "",
				fmt.Sprintf("(availability) form submission transport failure: %v", err))
			continue
		}
		if url != "" {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

func (s *AvailabilityService) storeLinks(queryID uint, pmid int64, link models.ArticleLink) bool {
	res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
	if res.Error != nil {
		s.Logger.Error("Konnte Zugriffs-Links nicht schreiben",
			zap.Uint("query_id", queryID), zap.Int64("pmid", pmid), zap.Error(res.Error))
		return false
	}
	return res.RowsAffected > 0
}
