package models

// ChemblPMID ist ein Eintrag der global geladenen Korpus-Identifier-Menge
// (PMIDs aller Dokumente der referenzierten ChEMBL-Version). Der Bulk-Load
// selbst ist eine externe Grenze; hier liegt nur die Zielmenge.
type ChemblPMID struct {
	PMID int64 `json:"pmid" gorm:"primaryKey;autoIncrement:false;column:pmid"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (ChemblPMID) TableName() string {
	return "chembl_pmids"
}
