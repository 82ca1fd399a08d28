package scoring

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Unterscheidbare Fehlerklassen der Score-Antwort (siehe Fehler-Taxonomie).
var (
	// ErrBadShape: Antwort ist kein JSON-Objekt mit "score"-Feld.
	ErrBadShape = errors.New("scoring response has unexpected shape")
	// ErrMalformed: "score"-Feld vorhanden, aber nicht als Zahl lesbar.
	ErrMalformed = errors.New("scoring response score is not numeric")
)

// Fetcher kapselt die Logik für den Relevanz-Scoring-Webservice.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Scoring-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// GetScore holt den Score für Titel und Abstract. Beide werden base64-kodiert
// in den Request-Pfad eingesetzt, wie der Webservice es erwartet. Standard-
// base64 enthält "/" und "+", daher müssen die Segmente pfad-escaped werden,
// sonst zerfällt der Pfad in zusätzliche Segmente.
func (f *Fetcher) GetScore(ctx context.Context, title, abstract string) (float64, error) {
	encTitle := base64.StdEncoding.EncodeToString([]byte(title))
	encAbstract := base64.StdEncoding.EncodeToString([]byte(abstract))
	scoreURL := fmt.Sprintf("%s/%s/%s", f.Config.ScoringBaseURL,
		url.PathEscape(encTitle), url.PathEscape(encAbstract))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scoreURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Nicht-200 ist ein Transportproblem, keine fehlerhafte Score-Antwort.
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scoring request failed with status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadShape, err)
	}

	raw, ok := payload["score"]
	if !ok {
		return 0, ErrBadShape
	}

	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, v)
		}
		return score, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrMalformed, raw)
	}
}
