package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers/europepmc"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Eine Connection, damit alle Worker dieselbe In-Memory-DB sehen.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Query{},
		&models.ResultID{},
		&models.ArticleRecord{},
		&models.Score{},
		&models.ArticleLink{},
		&models.ErrorRecord{},
		&models.ChemblPMID{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		EPMCPageSize:    25,
		EPMCPageRetries: 1,
		StageWorkers:    2,
	}
}

// fakeSearchProvider liefert vorbereitete Seiten bzw. Fehler pro Seitennummer.
type fakeSearchProvider struct {
	mu    sync.Mutex
	pages map[int]*europepmc.SearchResponse
	errs  map[int]error
	calls []int
}

func (f *fakeSearchProvider) SearchPage(ctx context.Context, query string, page int, idsOnly bool) (*europepmc.SearchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	if err, ok := f.errs[page]; ok {
		return nil, err
	}
	resp, ok := f.pages[page]
	if !ok {
		return &europepmc.SearchResponse{}, nil
	}
	return resp, nil
}

func (f *fakeSearchProvider) Name() string { return "fake" }

func makeResult(pmid string) europepmc.Result {
	r := europepmc.Result{
		ID:           "MED:" + pmid,
		Source:       "MED",
		PMID:         pmid,
		Title:        "Title " + pmid,
		AbstractText: "Abstract " + pmid,
		InEPMC:       "Y",
	}
	r.JournalInfo.YearOfPublication = 2023
	r.JournalInfo.Journal.Title = "Journal of Testing"
	r.JournalInfo.Journal.MedlineAbbreviation = "J Test"
	return r
}

func makePage(hitCount int, results ...europepmc.Result) *europepmc.SearchResponse {
	resp := &europepmc.SearchResponse{HitCount: hitCount}
	resp.ResultList.Result = results
	return resp
}

func TestPageCount(t *testing.T) {
	cases := []struct {
		hitCount int
		want     int
	}{
		{0, 1},
		{1, 1},
		{24, 1},
		{25, 1},
		{26, 2},
		{50, 2},
		{51, 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pageCount(tc.hitCount, 25), "hitCount=%d", tc.hitCount)
	}
}

func TestIngestMergesAndIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeSearchProvider{pages: map[int]*europepmc.SearchResponse{
		1: makePage(3, makeResult("100"), makeResult("101"), makeResult("102")),
	}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	stats, err := svc.Run(context.Background(), "aspirin", false)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.HitCount)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 3, stats.NewRecords)
	assert.Equal(t, 3, stats.Memberships)

	// Zweiter Lauf derselben Query: neue Query-Zeile, aber keine neuen Artikel.
	stats2, err := svc.Run(context.Background(), "aspirin", false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats2.NewRecords)

	var queries, records, memberships int64
	db.Model(&models.Query{}).Count(&queries)
	db.Model(&models.ArticleRecord{}).Count(&records)
	db.Model(&models.ResultID{}).Count(&memberships)
	assert.Equal(t, int64(2), queries)
	assert.Equal(t, int64(3), records)
	assert.Equal(t, int64(6), memberships)
}

func TestIngestSharedArticleAcrossQueries(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeSearchProvider{pages: map[int]*europepmc.SearchResponse{
		1: makePage(1, makeResult("200")),
	}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	_, err := svc.Run(context.Background(), "first query", false)
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), "second query", false)
	require.NoError(t, err)

	// Ein Artikel, aber zwei Zugehörigkeits-Kanten.
	var records, memberships int64
	db.Model(&models.ArticleRecord{}).Count(&records)
	db.Model(&models.ResultID{}).Where("pmid = ?", 200).Count(&memberships)
	assert.Equal(t, int64(1), records)
	assert.Equal(t, int64(2), memberships)
}

func TestIngestDuplicateItemCountsMembershipOnce(t *testing.T) {
	db := newTestDB(t)
	// Dieselbe PMID zweimal in den Treffern: nur die erste Kante zählt.
	provider := &fakeSearchProvider{pages: map[int]*europepmc.SearchResponse{
		1: makePage(2, makeResult("700"), makeResult("700")),
	}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	stats, err := svc.Run(context.Background(), "duplicate hit", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Memberships)
	assert.Equal(t, 1, stats.NewRecords)

	var memberships int64
	db.Model(&models.ResultID{}).Where("pmid = ?", 700).Count(&memberships)
	assert.Equal(t, int64(1), memberships)
}

func TestIngestRecordsMalformedItems(t *testing.T) {
	db := newTestDB(t)

	bookChapter := europepmc.Result{ID: "CBA:999", Source: "CBA", Title: "A Book Chapter"}
	provider := &fakeSearchProvider{pages: map[int]*europepmc.SearchResponse{
		1: makePage(3, makeResult("300"), bookChapter, makeResult("301")),
	}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	stats, err := svc.Run(context.Background(), "chapters", false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NewRecords)
	assert.Equal(t, 1, stats.Errors)

	var rec models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindMalformedResult).First(&rec).Error)
	assert.Equal(t, "CBA:999", rec.ObjectID)
	assert.Nil(t, rec.PMID)
	assert.Equal(t, stats.QueryID, rec.QueryID)
}

func TestIngestMissingRequiredFields(t *testing.T) {
	db := newTestDB(t)

	noAbstract := makeResult("400")
	noAbstract.AbstractText = ""
	provider := &fakeSearchProvider{pages: map[int]*europepmc.SearchResponse{
		1: makePage(1, noAbstract),
	}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	stats, err := svc.Run(context.Background(), "incomplete", false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NewRecords)
	assert.Equal(t, 1, stats.Errors)

	// Die Kante bleibt, nur der Artikel fehlt.
	var memberships int64
	db.Model(&models.ResultID{}).Where("pmid = ?", 400).Count(&memberships)
	assert.Equal(t, int64(1), memberships)

	var rec models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindMalformedResult).First(&rec).Error)
	require.NotNil(t, rec.PMID)
	assert.Equal(t, int64(400), *rec.PMID)
}

func TestIngestFirstPageFailureWritesNoQuery(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeSearchProvider{errs: map[int]error{1: fmt.Errorf("connection refused")}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	_, err := svc.Run(context.Background(), "unreachable", false)
	require.Error(t, err)

	var queries int64
	db.Model(&models.Query{}).Count(&queries)
	assert.Equal(t, int64(0), queries)
}

func TestIngestLaterPageFailureIsRecorded(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeSearchProvider{
		pages: map[int]*europepmc.SearchResponse{
			1: makePage(26, makeResult("500")),
		},
		errs: map[int]error{2: fmt.Errorf("status 500")},
	}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	stats, err := svc.Run(context.Background(), "flaky", false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 1, stats.NewRecords)
	assert.Equal(t, 1, stats.Errors)

	var rec models.ErrorRecord
	require.NoError(t, db.Where("kind = ?", models.ErrKindQueryPageFailed).First(&rec).Error)
	assert.Equal(t, "page:2", rec.ObjectID)
	assert.Nil(t, rec.PMID)
}

func TestIngestIDsOnlySkipsRecords(t *testing.T) {
	db := newTestDB(t)
	idOnly := europepmc.Result{ID: "600", PMID: "600"}
	provider := &fakeSearchProvider{pages: map[int]*europepmc.SearchResponse{
		1: makePage(1, idOnly),
	}}
	svc := NewIngestService(testConfig(), db, zap.NewNop(), provider)

	stats, err := svc.Run(context.Background(), "ids only", true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Memberships)
	assert.Equal(t, 0, stats.NewRecords)

	var records int64
	db.Model(&models.ArticleRecord{}).Count(&records)
	assert.Equal(t, int64(0), records)
}

func TestClassifyLinks(t *testing.T) {
	urls := []europepmc.FullTextURL{
		{AvailabilityCode: "OA", DocumentStyle: "pdf", URL: "https://example.org/a.pdf"},
		{AvailabilityCode: "OA", DocumentStyle: "html", URL: "https://example.org/a.html"},
		{AvailabilityCode: "S", DocumentStyle: "doi", URL: "https://doi.org/10.1/x"},
		{AvailabilityCode: "F", DocumentStyle: "pdf", URL: "https://example.org/b.pdf"},
	}

	codes, pdfs, others := classifyLinks(urls)
	assert.Equal(t, "OA, S, F", codes)
	assert.Equal(t, "https://example.org/a.pdf, https://example.org/b.pdf", pdfs)
	// Subscription-only-Links (Code S) werden nicht übernommen.
	assert.Equal(t, "https://example.org/a.html", others)
}
