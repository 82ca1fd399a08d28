package models

import (
	"time"
)

// ArticleRecord hält die aus Europe PMC extrahierten Metadaten eines Artikels.
// Pro PMID existiert höchstens eine Zeile; spätere Fetches überschreiben nie
// (insert mit ON CONFLICT DO NOTHING, first-writer-wins).
type ArticleRecord struct {
	PMID      int64     `json:"pmid" gorm:"primaryKey;autoIncrement:false;column:pmid"`
	CreatedAt time.Time `json:"created_at"`

	Year          int    `json:"year"`
	Title         string `json:"title" gorm:"type:text"`
	Abstract      string `json:"abstract,omitempty" gorm:"type:text"`
	JournalTitle  string `json:"journal_title,omitempty"`
	JournalAbbrev string `json:"journal_abbrev,omitempty"`

	// InEPMC: Volltext direkt im Dienst verfügbar
	InEPMC bool `json:"in_epmc" gorm:"column:in_epmc"`

	// Verfügbarkeits-Codes aller Volltext-Links, distinct und mit ", " verbunden
	AvailCodes string `json:"avail_codes,omitempty"`
	PDFLinks   string `json:"pdf_links,omitempty" gorm:"type:text"`
	OtherLinks string `json:"other_links,omitempty" gorm:"type:text"`

	// InChembl ist dreiwertig: nil solange das Tagging für keine Query lief.
	InChembl *bool `json:"in_chembl" gorm:"column:in_chembl"`

	// S3-Archivierung der Open-Access-PDF (optionaler Nachlauf)
	Archived    bool   `json:"archived"`
	ArchiveLink string `json:"archive_link,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (ArticleRecord) TableName() string {
	return "article_data"
}
