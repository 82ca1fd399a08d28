package europepmc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher kapselt den Zugriff auf den Europe PMC Such-Endpoint.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "europepmc"
}

// SearchPage ruft eine einzelne Ergebnisseite ab. idsOnly schaltet auf das
// schlanke idlist-Resultformat um. Nicht-200-Antworten und Transportfehler
// werden bis zu EPMC_PAGE_RETRIES-mal wiederholt, bevor der Fehler nach oben
// geht; der Aufrufer entscheidet, ob das die Query beendet (Seite 1) oder nur
// ein Fehler-Record wird.
func (f *Fetcher) SearchPage(ctx context.Context, query string, page int, idsOnly bool) (*SearchResponse, error) {
	resultType := "core"
	if idsOnly {
		resultType = "idlist"
	}

	params := url.Values{}
	params.Set("query", fmt.Sprintf("(%s AND (%s))", query, f.Config.EPMCSourceFilter))
	params.Set("resulttype", resultType)
	params.Set("format", "json")
	params.Set("pageSize", fmt.Sprintf("%d", f.Config.EPMCPageSize))
	params.Set("page", fmt.Sprintf("%d", page))
	searchURL := fmt.Sprintf("%s/search?%s", f.Config.EPMCBaseURL, params.Encode())

	log := f.Logger.With(zap.Int("page", page), zap.String("resulttype", resultType))

	var lastErr error
	for attempt := 1; attempt <= f.Config.EPMCPageRetries; attempt++ {
		resp, err := f.doGet(ctx, searchURL)
		if err != nil {
			lastErr = err
			log.Warn("Such-Anfrage fehlgeschlagen", zap.Int("attempt", attempt), zap.Error(err))
		} else if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("search page %d: status %d", page, resp.StatusCode)
			log.Warn("Such-Endpoint lieferte nicht-200-Status", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
		} else {
			var sr SearchResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&sr)
			resp.Body.Close()
			if decodeErr != nil {
				lastErr = fmt.Errorf("search page %d: decode: %w", page, decodeErr)
			} else {
				return &sr, nil
			}
		}

		if attempt < f.Config.EPMCPageRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	return nil, lastErr
}

// HitProfile liefert die Trefferzahlen je PubType für eine Query, ohne etwas
// zu persistieren. Entspricht dem Profile-Modul des Webservices.
func (f *Fetcher) HitProfile(ctx context.Context, query string) (map[string]int, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("(%s AND (%s))", query, f.Config.EPMCSourceFilter))
	params.Set("format", "json")
	profileURL := fmt.Sprintf("%s/profile?%s", f.Config.EPMCBaseURL, params.Encode())

	resp, err := f.doGet(ctx, profileURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request failed with status: %d", resp.StatusCode)
	}

	var pr ProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(pr.ProfileList.PubType))
	for _, pt := range pr.ProfileList.PubType {
		counts[pt.Name] = pt.Count
	}
	return counts, nil
}

func (f *Fetcher) doGet(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return httpClient.Do(req)
}
