package models

// ResultID ist die Kante "PMID erschien in den Treffern von Query".
// Unique auf (query_id, pmid); die Einfügereihenfolge spielt keine Rolle.
type ResultID struct {
	QueryID uint  `json:"query_id" gorm:"primaryKey;autoIncrement:false"`
	PMID    int64 `json:"pmid" gorm:"primaryKey;autoIncrement:false;column:pmid"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (ResultID) TableName() string {
	return "result_ids"
}
