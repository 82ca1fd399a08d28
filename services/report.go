package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReportRow ist die Lese-Projektion eines Artikels im Kontext einer Query:
// Metadaten, Korpus-Flag, Score, Verfügbarkeits-Codes, alle Link-Felder und
// ein eventueller Fehler-Kommentar. Die Darstellung (Tabelle, Highlighting,
// Histogramm) passiert außerhalb.
type ReportRow struct {
	PMID          int64    `json:"pmid" gorm:"column:pmid"`
	Year          int      `json:"year"`
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract"`
	JournalTitle  string   `json:"journal_title"`
	InChembl      *bool    `json:"in_chembl"`
	Score         *float64 `json:"score"`
	AvailCodes    string   `json:"avail_codes"`
	PDFLinks      string   `json:"pdf_links"`
	OtherLinks    string   `json:"other_links"`
	CampusLinks   string   `json:"campus_links"`
	RequestAccess string   `json:"request_access"`
	ErrorComment  string   `json:"error_comment"`
}

// ReportService liefert die stabile Lese-Sicht auf die Ergebnisse einer Query.
type ReportService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewReportService erstellt eine neue Instanz des ReportService.
func NewReportService(db *gorm.DB, logger *zap.Logger) *ReportService {
	return &ReportService{DB: db, Logger: logger}
}

// RowsForQuery gibt alle Ergebnis-Zeilen einer Query zurück, höchster Score
// zuerst, ungescorte Artikel am Ende.
func (s *ReportService) RowsForQuery(ctx context.Context, queryID uint) ([]ReportRow, error) {
	var rows []ReportRow
	err := s.DB.WithContext(ctx).Raw(`
		select distinct r.pmid, a.year, a.title, a.abstract, a.journal_title,
			a.in_chembl, sc.score, a.avail_codes, a.pdf_links, a.other_links,
			al.campus_links, al.request_access,
			coalesce(er.comment, '') as error_comment
		from result_ids r
		left join article_data a on r.pmid = a.pmid
		left join scores sc on r.pmid = sc.pmid
		left join article_links al on r.pmid = al.pmid
		left join error_records er on (r.query_id = er.query_id and r.pmid = er.pmid)
		where r.query_id = ?
		order by coalesce(sc.score, -1) desc, r.pmid`, queryID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("report rows for query %d: %w", queryID, err)
	}

	s.Logger.Debug("Report erstellt", zap.Uint("query_id", queryID), zap.Int("rows", len(rows)))
	return rows, nil
}
