package models

import (
	"time"
)

// Query repräsentiert eine durchgeführte boolesche Suche inklusive Trefferzahl.
// Die Tabelle ist ein Append-only-Log: dieselbe Query erneut abzuschicken legt
// bewusst eine neue Zeile an.
type Query struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	QueryText     string    `json:"query_text" gorm:"type:text;not null"`
	HitCount      int       `json:"hit_count"`
	DatePerformed time.Time `json:"date_performed"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Query) TableName() string {
	return "queries"
}
