package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers"
	"paper-scout/providers/europepmc"
)

// IngestService treibt die Paginierung über den Such-Endpoint und mischt die
// Result-Items idempotent in den Store. Ein parametrisierter Pfad deckt beide
// Betriebsarten ab: nur PMIDs sammeln (idsOnly) oder Metadaten direkt mit
// einlesen.
type IngestService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Provider providers.SearchProvider
	Errors   *ErrorSink
}

// NewIngestService erstellt eine neue Instanz des IngestService.
func NewIngestService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, provider providers.SearchProvider) *IngestService {
	return &IngestService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Provider: provider,
		Errors:   NewErrorSink(db, logger),
	}
}

// IngestStats fasst das Ergebnis eines Ingest-Laufs zusammen.
type IngestStats struct {
	QueryID     uint `json:"query_id"`
	HitCount    int  `json:"hit_count"`
	Pages       int  `json:"pages"`
	NewRecords  int  `json:"new_records"`
	Memberships int  `json:"memberships"`
	Errors      int  `json:"errors"`
}

// Run führt eine Query vollständig aus: Seite 1 holen, Query-Zeile anlegen,
// restliche Seiten über einen begrenzten Worker-Pool mischen. Schlägt Seite 1
// endgültig fehl, wird keine Query-Zeile geschrieben und der Fehler geht nach
// oben; spätere Seitenfehler werden als query_page_failed protokolliert.
func (s *IngestService) Run(ctx context.Context, queryText string, idsOnly bool) (*IngestStats, error) {
	log := s.Logger.With(zap.String("query", queryText), zap.Bool("ids_only", idsOnly))
	log.Info("Starte Ingest-Lauf.")

	firstPage, err := s.Provider.SearchPage(ctx, queryText, 1, idsOnly)
	if err != nil {
		return nil, fmt.Errorf("first page fetch failed: %w", err)
	}

	query := models.Query{
		QueryText:     queryText,
		HitCount:      firstPage.HitCount,
		DatePerformed: time.Now(),
	}
	if err := s.DB.Create(&query).Error; err != nil {
		return nil, fmt.Errorf("create query row: %w", err)
	}

	stats := &IngestStats{QueryID: query.ID, HitCount: firstPage.HitCount}
	stats.Pages = pageCount(firstPage.HitCount, s.Config.EPMCPageSize)

	var mu sync.Mutex
	s.mergePage(ctx, query.ID, firstPage.ResultList.Result, idsOnly, stats, &mu)

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.Config.StageWorkers)

	for page := 2; page <= stats.Pages; page++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(page int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			resp, err := s.Provider.SearchPage(ctx, queryText, page, idsOnly)
			if err != nil {
				log.Warn("Seite endgültig fehlgeschlagen", zap.Int("page", page), zap.Error(err))
				s.Errors.Record(query.ID, nil, models.ErrKindQueryPageFailed, fmt.Sprintf("page:%d", page),
					fmt.Sprintf("(ingest) page %d failed after retries: %v", page, err))
				mu.Lock()
				stats.Errors++
				mu.Unlock()
				return
			}
			s.mergePage(ctx, query.ID, resp.ResultList.Result, idsOnly, stats, &mu)
		}(page)
	}

	wg.Wait()
	log.Info("Ingest-Lauf abgeschlossen",
		zap.Uint("query_id", query.ID),
		zap.Int("hit_count", stats.HitCount),
		zap.Int("new_records", stats.NewRecords),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

// mergePage mischt die Items einer Ergebnisseite in den Store. Fehler einzelner
// Items landen in der Fehler-Senke, die Seite läuft immer bis zum Ende durch.
func (s *IngestService) mergePage(ctx context.Context, queryID uint, items []europepmc.Result, idsOnly bool, stats *IngestStats, mu *sync.Mutex) {
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}

		pmid, err := strconv.ParseInt(strings.TrimSpace(item.PMID), 10, 64)
		if err != nil {
			s.Errors.Record(queryID, nil, models.ErrKindMalformedResult, item.ID,
				"(ingest) result item has no parsable pmid, possibly a book chapter")
			mu.Lock()
			stats.Errors++
			mu.Unlock()
			continue
		}

		edge := s.DB.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ResultID{QueryID: queryID, PMID: pmid})
		if edge.Error != nil {
			s.Logger.Error("Konnte Result-Kante nicht schreiben", zap.Int64("pmid", pmid), zap.Error(edge.Error))
			continue
		}
		if edge.RowsAffected > 0 {
			mu.Lock()
			stats.Memberships++
			mu.Unlock()
		}

		if idsOnly {
			continue
		}

		// Existenz-Check pro Item statt vorab geladener Snapshot-Liste; das
		// eigentliche Rennen entscheidet ohnehin der ON CONFLICT beim Insert.
		var known int64
		if err := s.DB.Model(&models.ArticleRecord{}).Where("pmid = ?", pmid).Count(&known).Error; err == nil && known > 0 {
			continue
		}

		record, extractErr := extractRecord(pmid, &item)
		if extractErr != nil {
			s.Errors.Record(queryID, int64Ptr(pmid), models.ErrKindMalformedResult, item.ID,
				fmt.Sprintf("(ingest) %v", extractErr))
			mu.Lock()
			stats.Errors++
			mu.Unlock()
			continue
		}

		res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
		if res.Error != nil {
			s.Logger.Error("Konnte Artikel nicht schreiben", zap.Int64("pmid", pmid), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected > 0 {
			mu.Lock()
			stats.NewRecords++
			mu.Unlock()
		}
	}
}

// extractRecord baut aus einem Result-Item den Artikel-Record. Fehlen
// Pflichtfelder (z.B. keine Journal-Info bei Buchkapiteln), kommt ein Fehler
// zurück und das Item wandert ins Fehler-Log.
func extractRecord(pmid int64, item *europepmc.Result) (*models.ArticleRecord, error) {
	switch {
	case item.Title == "":
		return nil, fmt.Errorf("required field title missing")
	case item.AbstractText == "":
		return nil, fmt.Errorf("required field abstract missing")
	case item.JournalInfo.YearOfPublication == 0:
		return nil, fmt.Errorf("required journal info missing, possibly a book chapter")
	case item.JournalInfo.Journal.Title == "":
		return nil, fmt.Errorf("required field journal title missing")
	case item.JournalInfo.Journal.MedlineAbbreviation == "":
		return nil, fmt.Errorf("required field journal abbreviation missing")
	}

	availCodes, pdfLinks, otherLinks := classifyLinks(item.FullTextURLList.FullTextURL)

	return &models.ArticleRecord{
		PMID:          pmid,
		Year:          item.JournalInfo.YearOfPublication,
		Title:         item.Title,
		Abstract:      item.AbstractText,
		JournalTitle:  item.JournalInfo.Journal.Title,
		JournalAbbrev: item.JournalInfo.Journal.MedlineAbbreviation,
		InEPMC:        item.InEPMC == "Y",
		AvailCodes:    availCodes,
		PDFLinks:      pdfLinks,
		OtherLinks:    otherLinks,
	}, nil
}

// classifyLinks sortiert die Volltext-Links eines Items: documentStyle "pdf"
// landet in pdf_links, alles andere außer Code "S" (subscription-only) in
// other_links. Die Verfügbarkeits-Codes werden distinct zusammengefasst.
func classifyLinks(urls []europepmc.FullTextURL) (availCodes, pdfLinks, otherLinks string) {
	var codes, pdfs, others []string
	seenCodes := map[string]bool{}

	for _, u := range urls {
		if u.AvailabilityCode != "" && !seenCodes[u.AvailabilityCode] {
			seenCodes[u.AvailabilityCode] = true
			codes = append(codes, u.AvailabilityCode)
		}
		switch {
		case u.DocumentStyle == "pdf":
			pdfs = append(pdfs, u.URL)
		case u.AvailabilityCode != "S":
			others = append(others, u.URL)
		}
	}

	return strings.Join(codes, ", "), strings.Join(pdfs, ", "), strings.Join(others, ", ")
}

// pageCount leitet die Seitenzahl aus der Trefferzahl ab. Exakte Vielfache der
// Seitengröße ergeben genau hitCount/pageSize Seiten, alles andere eine Seite
// mehr; hitCount < pageSize ergibt damit korrekt 1.
func pageCount(hitCount, pageSize int) int {
	if hitCount <= 0 {
		return 1
	}
	if hitCount%pageSize == 0 {
		return hitCount / pageSize
	}
	return hitCount/pageSize + 1
}
