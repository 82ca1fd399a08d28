package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers/europepmc"
	"paper-scout/providers/resolver"
	"paper-scout/providers/scoring"
	"paper-scout/services"
	"paper-scout/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	newRecordsCounter    prometheus.Counter
	scoresStoredCounter  prometheus.Counter
	linksResolvedCounter prometheus.Counter
	errorRecordsCounter  prometheus.Counter
)

func init() {
	newRecordsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "article_records_added_total",
		Help: "Total number of new article records added to the store.",
	})
	scoresStoredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scores_stored_total",
		Help: "Total number of relevance scores stored.",
	})
	linksResolvedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_links_resolved_total",
		Help: "Total number of article link rows resolved and stored.",
	})
	errorRecordsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "error_records_total",
		Help: "Total number of error records written by the stages.",
	})
	prometheus.MustRegister(newRecordsCounter, scoresStoredCounter, linksResolvedCounter, errorRecordsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to the record store.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(
		&models.Query{},
		&models.ResultID{},
		&models.ArticleRecord{},
		&models.Score{},
		&models.ArticleLink{},
		&models.ErrorRecord{},
		&models.ChemblPMID{},
	); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Services
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	epmcFetcher := europepmc.NewFetcher(cfg, logging)
	ingestService := services.NewIngestService(cfg, db, logging, epmcFetcher)
	scoreService := services.NewScoreService(cfg, db, logging, scoring.NewFetcher(cfg, logging))
	corpusService := services.NewCorpusService(db, logging)
	availabilityService := services.NewAvailabilityService(cfg, db, logging, resolver.NewClient(cfg, logging))
	reportService := services.NewReportService(db, logging)
	archiveService := services.NewArchiveService(cfg, db, s3Client, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupQueryRoutes(router, db, cfg, ingestService, reportService)
	setupStageRoutes(router, db, cfg, scoreService, corpusService, availabilityService, archiveService)
	setupCorpusRoutes(router, cfg, corpusService)
	setupProfileRoutes(router, epmcFetcher, logging)

	// Setup Cron: Enrichment-Stages für alle gespeicherten Queries nachziehen.
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled enrichment job...")
		runEnrichmentForAllQueries(db, cfg, logging, scoreService, corpusService, availabilityService)
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// runEnrichmentForAllQueries zieht Scoring, Korpus-Tagging und Availability
// für jede gespeicherte Query nach. Alle Stages sind idempotent, daher ist der
// Durchlauf beliebig wiederholbar.
func runEnrichmentForAllQueries(db *gorm.DB, cfg *config.Config, logging *zap.Logger,
	scoreService *services.ScoreService, corpusService *services.CorpusService,
	availabilityService *services.AvailabilityService) {

	var queries []models.Query
	if err := db.Find(&queries).Error; err != nil {
		logging.Error("Failed to load queries for enrichment run", zap.Error(err))
		return
	}

	for _, q := range queries {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StageDeadline)

		if stored, err := scoreService.Run(ctx, q.ID); err != nil {
			logging.Error("Scheduled scoring failed", zap.Uint("query_id", q.ID), zap.Error(err))
		} else {
			scoresStoredCounter.Add(float64(stored))
		}

		if _, err := corpusService.Tag(ctx, q.ID); err != nil {
			logging.Error("Scheduled corpus tagging failed", zap.Uint("query_id", q.ID), zap.Error(err))
		}

		if stats, err := availabilityService.Run(ctx, q.ID); err != nil {
			logging.Error("Scheduled availability run failed", zap.Uint("query_id", q.ID), zap.Error(err))
		} else {
			linksResolvedCounter.Add(float64(stats.LinksStored))
			errorRecordsCounter.Add(float64(stats.Errors))
		}

		cancel()
	}
	logging.Info("Scheduled enrichment job completed", zap.Int("queries", len(queries)))
}

func setupQueryRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config,
	ingestService *services.IngestService, reportService *services.ReportService) {

	rg := router.Group("/queries")

	// POST - Query absetzen, Ingest läuft asynchron an
	rg.POST("/", func(c *gin.Context) {
		var req struct {
			Query   string `json:"query" binding:"required"`
			IDsOnly bool   `json:"ids_only"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'query' field is required."})
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.StageDeadline)
			defer cancel()

			stats, err := ingestService.Run(ctx, req.Query, req.IDsOnly)
			if err != nil {
				ingestService.Logger.Error("Async ingest failed", zap.String("query", req.Query), zap.Error(err))
				return
			}
			newRecordsCounter.Add(float64(stats.NewRecords))
			errorRecordsCounter.Add(float64(stats.Errors))
			ingestService.Logger.Info("Async ingest completed",
				zap.Uint("query_id", stats.QueryID), zap.Int("new_records", stats.NewRecords))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Ingest for query triggered."})
	})

	// GET - Alle gespeicherten Queries
	rg.GET("/", func(c *gin.Context) {
		var queries []models.Query
		if err := db.Order("date_performed desc").Find(&queries).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, queries)
	})

	// GET - Lese-Projektion einer Query
	rg.GET("/:id/report", func(c *gin.Context) {
		queryID, ok := parseQueryID(c)
		if !ok {
			return
		}
		rows, err := reportService.RowsForQuery(c.Request.Context(), queryID)
		if err != nil {
			reportService.Logger.Error("Report query failed", zap.Uint("query_id", queryID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	// GET - Fehler-Records einer Query
	rg.GET("/:id/errors", func(c *gin.Context) {
		queryID, ok := parseQueryID(c)
		if !ok {
			return
		}
		var records []models.ErrorRecord
		if err := db.Where("query_id = ?", queryID).Find(&records).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, records)
	})
}

func setupStageRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config,
	scoreService *services.ScoreService, corpusService *services.CorpusService,
	availabilityService *services.AvailabilityService, archiveService *services.ArchiveService) {

	rg := router.Group("/queries")

	triggerStage := func(c *gin.Context, name string, run func(ctx context.Context, queryID uint)) {
		queryID, ok := parseQueryID(c)
		if !ok {
			return
		}
		var query models.Query
		if err := db.First(&query, queryID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "query not found"})
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.StageDeadline)
			defer cancel()
			run(ctx, queryID)
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": name + " stage triggered.", "query_id": queryID})
	}

	rg.POST("/:id/score", func(c *gin.Context) {
		triggerStage(c, "scoring", func(ctx context.Context, queryID uint) {
			stored, err := scoreService.Run(ctx, queryID)
			if err != nil {
				scoreService.Logger.Error("Async scoring failed", zap.Uint("query_id", queryID), zap.Error(err))
				return
			}
			scoresStoredCounter.Add(float64(stored))
		})
	})

	rg.POST("/:id/tag-corpus", func(c *gin.Context) {
		triggerStage(c, "corpus tagging", func(ctx context.Context, queryID uint) {
			if _, err := corpusService.Tag(ctx, queryID); err != nil {
				corpusService.Logger.Error("Async corpus tagging failed", zap.Uint("query_id", queryID), zap.Error(err))
			}
		})
	})

	rg.POST("/:id/availability", func(c *gin.Context) {
		triggerStage(c, "availability", func(ctx context.Context, queryID uint) {
			stats, err := availabilityService.Run(ctx, queryID)
			if err != nil {
				availabilityService.Logger.Error("Async availability run failed", zap.Uint("query_id", queryID), zap.Error(err))
				return
			}
			linksResolvedCounter.Add(float64(stats.LinksStored))
			errorRecordsCounter.Add(float64(stats.Errors))
		})
	})

	rg.POST("/:id/archive", func(c *gin.Context) {
		triggerStage(c, "archive", func(ctx context.Context, queryID uint) {
			if _, err := archiveService.Run(ctx, queryID); err != nil {
				archiveService.Logger.Error("Async archive run failed", zap.Uint("query_id", queryID), zap.Error(err))
			}
		})
	})
}

func setupCorpusRoutes(router *gin.Engine, cfg *config.Config, corpusService *services.CorpusService) {
	rg := router.Group("/corpus")

	// POST - Bulk-Load der Korpus-PMIDs (Grenze zum Quellsystem)
	rg.POST("/load", func(c *gin.Context) {
		var req struct {
			PMIDs []int64 `json:"pmids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'pmids' field is required."})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.StageDeadline)
		defer cancel()

		loaded, err := corpusService.Load(ctx, req.PMIDs)
		if err != nil {
			corpusService.Logger.Error("Corpus load failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load corpus pmids"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"submitted": len(req.PMIDs), "new": loaded})
	})
}

func setupProfileRoutes(router *gin.Engine, fetcher *europepmc.Fetcher, log *zap.Logger) {
	// GET - Hit-Profil einer Query ohne Persistierung
	router.GET("/profile", func(c *gin.Context) {
		query := c.Query("query")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'query' is required"})
			return
		}
		counts, err := fetcher.HitProfile(c.Request.Context(), query)
		if err != nil {
			log.Error("Hit profile request failed", zap.String("query", query), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "profile request failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": query, "counts": counts})
	})
}

func parseQueryID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query id"})
		return 0, false
	}
	return uint(id), true
}
