package providers

import (
	"context"

	"paper-scout/providers/europepmc"
)

// SearchProvider ist das Interface, das der Ingest-Service gegenüber dem
// Such-Endpoint erwartet. Es existiert vor allem, damit Tests den echten
// Webservice durch einen Fake ersetzen können.
type SearchProvider interface {
	// SearchPage holt eine einzelne Ergebnisseite (1-basiert).
	SearchPage(ctx context.Context, query string, page int, idsOnly bool) (*europepmc.SearchResponse, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "europepmc").
	Name() string
}
