package resolver

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Textmarker der Resolver-Seite, an denen die Klassifizierung hängt.
const (
	markerNoFullText      = "No Full text available"
	markerRequestDocument = "Request document via"
)

// FormParams sind die Hidden-Input-Parameter eines Resolver-Formulars.
type FormParams map[string]string

// Page ist das geparste Ergebnis einer Resolver-Antwortseite: die
// Service-Beschreibungstexte plus die beiden Formular-Gruppen, über die
// Volltext bzw. Dokumentlieferung angefragt wird.
type Page struct {
	ServiceTexts          []string
	FullTextForms         []FormParams
	DocumentDeliveryForms []FormParams
}

// ParsePage liest eine Resolver-HTML-Seite aus r.
func ParsePage(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	doc.Find("div.service").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			page.ServiceTexts = append(page.ServiceTexts, text)
		}
	})
	page.FullTextForms = collectForms(doc, "service_type_header_getFullTxt")
	page.DocumentDeliveryForms = collectForms(doc, "service_type_header_getDocumentDelivery")
	return page, nil
}

// collectForms sammelt alle "basic"-Formulare unterhalb der Service-Tabelle
// mit der gegebenen ID und extrahiert deren Hidden-Inputs. Der HTML5-Parser
// lässt Formulare, die direkt unter <table> stehen, leer und hängt ihre
// Hidden-Inputs als Geschwister in die Tabelle; die Zuordnung Input-zu-Formular
// läuft deshalb über die Dokumentreihenfolge statt über die Verschachtelung.
func collectForms(doc *goquery.Document, tableID string) []FormParams {
	var forms []FormParams
	doc.Find("table#" + tableID).Find(`form[name*="basic"], input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "form" {
			forms = append(forms, FormParams{})
			return
		}
		if len(forms) == 0 {
			// Hidden-Input vor dem ersten Formular gehört zu keinem.
			return
		}
		name, okName := s.Attr("name")
		value, okValue := s.Attr("value")
		if okName && okValue {
			forms[len(forms)-1][name] = value
		}
	})

	filled := forms[:0]
	for _, params := range forms {
		if len(params) > 0 {
			filled = append(filled, params)
		}
	}
	return filled
}

// NoServiceText meldet den unklaren Fall einer Seite ohne Service-Beschreibung
// (z.B. ein Multi-Object-Menü).
func (p *Page) NoServiceText() bool {
	return len(p.ServiceTexts) == 0
}

// SaysNoFullText prüft, ob die Seite Volltext explizit verneint.
func (p *Page) SaysNoFullText() bool {
	return p.containsMarker(markerNoFullText)
}

// SaysRequestDocument prüft, ob die Seite Dokumentlieferung anbietet.
func (p *Page) SaysRequestDocument() bool {
	return p.containsMarker(markerRequestDocument)
}

func (p *Page) containsMarker(marker string) bool {
	for _, text := range p.ServiceTexts {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
