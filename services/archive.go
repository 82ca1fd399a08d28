package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/storage"
)

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu; manche
// Verlags-Server beantworten Requests ohne Browser-Kennung mit 403.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	return t.Transport.RoundTrip(req)
}

var httpClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &CustomTransport{
		Transport: http.DefaultTransport,
	},
}

// ArchiveService lädt für Artikel mit ingestierten PDF-Links die erste
// erreichbare PDF herunter und legt sie im S3-Archiv ab. Idempotent über das
// archived-Flag; Fehlschläge werden nur geloggt und beim nächsten Lauf erneut
// versucht.
type ArchiveService struct {
	Config   *config.Config
	DB       *gorm.DB
	S3Client *s3.Client
	Logger   *zap.Logger
}

// NewArchiveService erstellt eine neue Instanz des ArchiveService.
func NewArchiveService(cfg *config.Config, db *gorm.DB, s3Client *s3.Client, logger *zap.Logger) *ArchiveService {
	return &ArchiveService{Config: cfg, DB: db, S3Client: s3Client, Logger: logger}
}

// Run archiviert die PDFs aller noch nicht archivierten Artikel einer Query.
func (a *ArchiveService) Run(ctx context.Context, queryID uint) (int, error) {
	log := a.Logger.With(zap.Uint("query_id", queryID))

	var records []models.ArticleRecord
	err := a.DB.Where(`pdf_links <> '' and archived = ?
		and pmid in (select pmid from result_ids where query_id = ?)`, false, queryID).
		Find(&records).Error
	if err != nil {
		return 0, fmt.Errorf("load archive candidates: %w", err)
	}
	log.Info("Archiv-Lauf gestartet", zap.Int("candidates", len(records)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	archived := 0
	semaphore := make(chan struct{}, a.Config.StageWorkers)

	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(record models.ArticleRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if a.archiveRecord(ctx, &record) {
				mu.Lock()
				archived++
				mu.Unlock()
			}
		}(record)
	}

	wg.Wait()
	log.Info("Archiv-Lauf abgeschlossen", zap.Int("archived", archived))
	return archived, nil
}

// archiveRecord versucht die PDF-Links eines Artikels der Reihe nach, lädt die
// erste brauchbare PDF und markiert den Artikel als archiviert.
func (a *ArchiveService) archiveRecord(ctx context.Context, record *models.ArticleRecord) bool {
	log := a.Logger.With(zap.Int64("pmid", record.PMID))

	for _, link := range strings.Split(record.PDFLinks, ", ") {
		if link == "" {
			continue
		}
		data, foundPDF, err := a.downloadPDF(ctx, link)
		if err != nil {
			log.Warn("PDF-Download fehlgeschlagen", zap.String("url", link), zap.Error(err))
			continue
		}
		if !foundPDF {
			log.Debug("Ressource war keine PDF", zap.String("url", link))
			continue
		}

		key := fmt.Sprintf("%d.pdf", record.PMID)
		s3link, err := storage.UploadFile(ctx, a.S3Client, a.Config.ArchiveS3Bucket, key, data, a.Config)
		if err != nil {
			log.Error("S3-Upload fehlgeschlagen", zap.Error(err))
			return false
		}

		err = a.DB.Model(record).Updates(map[string]interface{}{
			"archived":     true,
			"archive_link": s3link,
		}).Error
		if err != nil {
			log.Error("Konnte Archiv-Status nicht schreiben", zap.Error(err))
			return false
		}
		log.Info("PDF erfolgreich archiviert", zap.String("s3_link", s3link))
		return true
	}

	log.Warn("Kein PDF-Link war erreichbar, Artikel bleibt unarchiviert.")
	return false
}

// downloadPDF lädt eine Ressource und meldet, ob es sich um eine PDF handelt.
func (a *ArchiveService) downloadPDF(ctx context.Context, link string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("bad status: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "pdf") || strings.HasSuffix(strings.ToLower(link), ".pdf") {
		data, err := io.ReadAll(resp.Body)
		return data, true, err
	}

	return nil, false, nil
}
