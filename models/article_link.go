package models

// ArticleLink speichert die über den Link-Resolver ermittelten Zugriffs-URLs.
// CampusLinks: Volltext über Campus-Subskription; RequestAccess: Links auf
// Dokumentlieferungs-Formulare. Mehrere URLs werden mit ", " verbunden.
type ArticleLink struct {
	PMID          int64  `json:"pmid" gorm:"primaryKey;autoIncrement:false;column:pmid"`
	CampusLinks   string `json:"campus_links,omitempty" gorm:"type:text"`
	RequestAccess string `json:"request_access,omitempty" gorm:"type:text"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (ArticleLink) TableName() string {
	return "article_links"
}
