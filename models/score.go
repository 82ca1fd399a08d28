package models

// Score ist der Relevanz-Score (ChEMBL-likeness) eines Artikels.
// Wird genau einmal pro PMID geschrieben und nie aktualisiert.
type Score struct {
	PMID  int64   `json:"pmid" gorm:"primaryKey;autoIncrement:false;column:pmid"`
	Score float64 `json:"score"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Score) TableName() string {
	return "scores"
}
