package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-scout/models"
	"paper-scout/providers/resolver"
)

type fakeResolver struct {
	mu       sync.Mutex
	pages    map[int64]*resolver.Page
	errs     map[int64]error
	submit   func(form resolver.FormParams) (string, error)
	resolved []int64
}

func (f *fakeResolver) Resolve(ctx context.Context, pmid int64) (*resolver.Page, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, pmid)
	f.mu.Unlock()

	if err, ok := f.errs[pmid]; ok {
		return nil, err
	}
	return f.pages[pmid], nil
}

// SubmitForm liefert per Default den "url"-Parameter des Formulars zurück,
// wie es der echte Resolver nach erfolgreichen Redirects täte.
func (f *fakeResolver) SubmitForm(ctx context.Context, form resolver.FormParams) (string, error) {
	if f.submit != nil {
		return f.submit(form)
	}
	return form["url"], nil
}

func seedAvailabilityCandidate(t *testing.T, db *gorm.DB, queryID uint, pmid int64, availCodes string) {
	t.Helper()
	notInCorpus := false
	require.NoError(t, db.Create(&models.ResultID{QueryID: queryID, PMID: pmid}).Error)
	require.NoError(t, db.Create(&models.ArticleRecord{
		PMID:       pmid,
		Title:      fmt.Sprintf("Title %d", pmid),
		Abstract:   fmt.Sprintf("Abstract %d", pmid),
		AvailCodes: availCodes,
		InChembl:   &notInCorpus,
	}).Error)
}

func newAvailabilityQuery(t *testing.T, db *gorm.DB) uint {
	t.Helper()
	query := models.Query{QueryText: "availability test", DatePerformed: time.Now()}
	require.NoError(t, db.Create(&query).Error)
	return query.ID
}

func TestAvailabilityDocumentDeliveryBranch(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 1, "S")

	res := &fakeResolver{pages: map[int64]*resolver.Page{
		1: {
			ServiceTexts:          []string{"No Full text available for this article"},
			DocumentDeliveryForms: []resolver.FormParams{{"url": "https://docdel.example.org/order?id=1"}},
		},
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 1, stats.LinksStored)
	assert.Equal(t, 0, stats.Errors)

	var link models.ArticleLink
	require.NoError(t, db.First(&link, "pmid = ?", 1).Error)
	assert.Equal(t, "https://docdel.example.org/order?id=1", link.RequestAccess)
	assert.Empty(t, link.CampusLinks)
}

func TestAvailabilityCampusBranch(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 2, "S")

	res := &fakeResolver{pages: map[int64]*resolver.Page{
		2: {
			ServiceTexts: []string{"Request document via campus services"},
			FullTextForms: []resolver.FormParams{
				{"url": "https://campus.example.org/fulltext/2"},
				{"url": "https://mirror.example.org/fulltext/2"},
			},
		},
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LinksStored)

	var link models.ArticleLink
	require.NoError(t, db.First(&link, "pmid = ?", 2).Error)
	assert.Equal(t, "https://campus.example.org/fulltext/2, https://mirror.example.org/fulltext/2", link.CampusLinks)
	assert.Empty(t, link.RequestAccess)
}

func TestAvailabilityCampusFallsBackToDocumentDelivery(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 3, "")

	// Volltext-Formular liefert keine URL, Dokumentlieferung springt ein.
	res := &fakeResolver{pages: map[int64]*resolver.Page{
		3: {
			ServiceTexts:          []string{"Request document via campus services"},
			FullTextForms:         []resolver.FormParams{{"sid": "broken"}},
			DocumentDeliveryForms: []resolver.FormParams{{"url": "https://docdel.example.org/order?id=3"}},
		},
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LinksStored)

	var link models.ArticleLink
	require.NoError(t, db.First(&link, "pmid = ?", 3).Error)
	assert.Equal(t, "https://docdel.example.org/order?id=3", link.RequestAccess)
}

func TestAvailabilityNoViableURLInEitherBranch(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 4, "")

	res := &fakeResolver{pages: map[int64]*resolver.Page{
		4: {
			ServiceTexts:  []string{"Request document via campus services"},
			FullTextForms: []resolver.FormParams{{"sid": "broken"}},
		},
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.LinksStored)
	assert.Equal(t, 1, stats.Errors)

	var rec models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindNoViableURL).First(&rec).Error)
	require.NotNil(t, rec.PMID)
	assert.Equal(t, int64(4), *rec.PMID)

	var links int64
	db.Model(&models.ArticleLink{}).Count(&links)
	assert.Equal(t, int64(0), links)
}

func TestAvailabilityResolverUnavailable(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 5, "S")

	res := &fakeResolver{errs: map[int64]error{
		5: fmt.Errorf("%w: last status 503", resolver.ErrUnavailable),
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)

	var rec models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindResolverUnavailable).First(&rec).Error)
	require.NotNil(t, rec.PMID)
	assert.Equal(t, int64(5), *rec.PMID)

	// Kein Link geschrieben: der Artikel bleibt Kandidat für den nächsten Lauf.
	var links int64
	db.Model(&models.ArticleLink{}).Count(&links)
	assert.Equal(t, int64(0), links)
}

func TestAvailabilityUnrecognizedAndUnclassifiedPages(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 6, "")
	seedAvailabilityCandidate(t, db, queryID, 7, "")

	res := &fakeResolver{pages: map[int64]*resolver.Page{
		6: {}, // keine Service-Texte, vermutlich Multi-Object-Menü
		7: {ServiceTexts: []string{"Some entirely different wording"}},
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Errors)

	var unrecognized, unclassified models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindPageUnrecognized).First(&unrecognized).Error)
	require.NoError(t, db.Where("kind = ?", models.ErrKindPageUnclassified).First(&unclassified).Error)
	assert.Equal(t, int64(6), *unrecognized.PMID)
	assert.Equal(t, int64(7), *unclassified.PMID)
}

func TestAvailabilityRedirectLoopAbortsArticle(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)
	seedAvailabilityCandidate(t, db, queryID, 8, "S")

	res := &fakeResolver{
		pages: map[int64]*resolver.Page{
			8: {
				ServiceTexts:          []string{"No Full text available"},
				DocumentDeliveryForms: []resolver.FormParams{{"url": "https://loop.example.org"}},
			},
		},
		submit: func(form resolver.FormParams) (string, error) {
			return "", resolver.ErrTooManyRedirects
		},
	}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)

	var rec models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindTooManyRedirects).First(&rec).Error)
	assert.Equal(t, int64(8), *rec.PMID)
}

func TestAvailabilityCandidateSelection(t *testing.T) {
	db := newTestDB(t)
	queryID := newAvailabilityQuery(t, db)

	// Kandidat: kein freier Volltext, außerhalb des Korpus.
	seedAvailabilityCandidate(t, db, queryID, 10, "S")

	// Kein Kandidat: freier Volltext vorhanden.
	seedAvailabilityCandidate(t, db, queryID, 11, "OA")
	seedAvailabilityCandidate(t, db, queryID, 12, "F, S")

	// Kein Kandidat: im Korpus.
	inCorpus := true
	require.NoError(t, db.Create(&models.ResultID{QueryID: queryID, PMID: 13}).Error)
	require.NoError(t, db.Create(&models.ArticleRecord{PMID: 13, Title: "corpus", AvailCodes: "S", InChembl: &inCorpus}).Error)

	// Kein Kandidat: article_links-Zeile existiert schon.
	seedAvailabilityCandidate(t, db, queryID, 14, "S")
	require.NoError(t, db.Create(&models.ArticleLink{PMID: 14, CampusLinks: "https://done.example.org"}).Error)

	res := &fakeResolver{pages: map[int64]*resolver.Page{
		10: {
			ServiceTexts:          []string{"No Full text available"},
			DocumentDeliveryForms: []resolver.FormParams{{"url": "https://docdel.example.org/order?id=10"}},
		},
	}}
	svc := NewAvailabilityService(testConfig(), db, zap.NewNop(), res)

	stats, err := svc.Run(context.Background(), queryID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, []int64{10}, res.resolved)
}
