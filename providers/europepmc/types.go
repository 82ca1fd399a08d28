package europepmc

// SearchResponse ist die Top-Level-Struktur der Europe PMC Such-Antwort.
// HitCount steuert die Paginierung im Ingest-Service.
type SearchResponse struct {
	HitCount   int `json:"hitCount"`
	ResultList struct {
		Result []Result `json:"result"`
	} `json:"resultList"`
}

// Result repräsentiert ein einzelnes Result-Item der Such-Antwort.
type Result struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	PMID         string `json:"pmid"`
	Title        string `json:"title"`
	AbstractText string `json:"abstractText"`
	JournalInfo  struct {
		YearOfPublication int `json:"yearOfPublication"`
		Journal           struct {
			Title               string `json:"title"`
			MedlineAbbreviation string `json:"medlineAbbreviation"`
		} `json:"journal"`
	} `json:"journalInfo"`
	InEPMC          string `json:"inEPMC"`
	FullTextURLList struct {
		FullTextURL []FullTextURL `json:"fullTextUrl"`
	} `json:"fullTextUrlList"`
}

// FullTextURL repräsentiert einen einzelnen Volltext-Link.
type FullTextURL struct {
	Availability     string `json:"availability"`
	AvailabilityCode string `json:"availabilityCode"`
	DocumentStyle    string `json:"documentStyle"`
	Site             string `json:"site"`
	URL              string `json:"url"`
}

// ProfileResponse ist die Antwort des Profile-Moduls (Trefferzahlen je PubType).
type ProfileResponse struct {
	ProfileList struct {
		PubType []PubTypeCount `json:"pubType"`
	} `json:"profileList"`
}

// PubTypeCount ist ein Zähler-Eintrag im Hit-Profil, z.B. name="ALL".
type PubTypeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
