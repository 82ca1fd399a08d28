package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"paper-scout/config"
)

// Fehler-Signale des Resolvers, auf die der Availability-Service abbildet.
var (
	// ErrUnavailable: auch nach allen Versuchen kein HTTP 200 vom Resolver.
	ErrUnavailable = errors.New("resolver unavailable after retries")
	// ErrTooManyRedirects: eine Formular-Submission lief in eine Redirect-Schleife.
	ErrTooManyRedirects = errors.New("stopped after too many redirects")
)

// Client kapselt den Zugriff auf den SFX-artigen Link-Resolver. Retries laufen
// über die resty-Policy (begrenzte Versuche, wachsende Wartezeit mit Jitter)
// statt über Inline-Sleeps.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
	rc     *resty.Client
}

// NewClient erstellt einen neuen Resolver-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	rc := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.ResolverRetries - 1).
		SetRetryWaitTime(cfg.ResolverRetryWait).
		SetRetryMaxWaitTime(cfg.ResolverMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() != http.StatusOK
		}).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return ErrTooManyRedirects
			}
			return nil
		}))
	return &Client{Config: cfg, Logger: logger, rc: rc}
}

// Resolve ruft die Resolver-Menüseite für eine PMID ab und parst sie.
// Liefert ErrUnavailable, wenn der Resolver in keinem Versuch 200 liefert;
// Transportfehler gehen unverändert nach oben.
func (c *Client) Resolve(ctx context.Context, pmid int64) (*Page, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("sid", c.Config.ResolverSID).
		SetQueryParam("id", fmt.Sprintf("pmid:%d", pmid)).
		Get(c.Config.ResolverBaseURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: last status %d", ErrUnavailable, resp.StatusCode())
	}

	page, err := ParsePage(strings.NewReader(resp.String()))
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("Resolver-Seite geparst",
		zap.Int64("pmid", pmid),
		zap.Int("service_texts", len(page.ServiceTexts)),
		zap.Int("fulltext_forms", len(page.FullTextForms)),
		zap.Int("docdel_forms", len(page.DocumentDeliveryForms)))
	return page, nil
}

// SubmitForm schickt die Hidden-Parameter eines Formulars an den
// Resolver-CGI-Endpoint. Bei HTTP 200 kommt die finale URL (nach Redirects)
// zurück, sonst ein leerer String. Redirect-Schleifen sind per
// errors.Is(err, ErrTooManyRedirects) erkennbar.
func (c *Client) SubmitForm(ctx context.Context, form FormParams) (string, error) {
	req := c.rc.R().SetContext(ctx)
	for name, value := range form {
		req.SetQueryParam(name, value)
	}

	resp, err := req.Get(c.Config.ResolverCGIURL)
	if err != nil {
		if errors.Is(err, ErrTooManyRedirects) {
			return "", ErrTooManyRedirects
		}
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", nil
	}

	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		return raw.Request.URL.String(), nil
	}
	return c.Config.ResolverCGIURL, nil
}
