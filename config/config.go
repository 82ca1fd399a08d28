package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Europe PMC Such-Endpoint
	EPMCBaseURL      string `envconfig:"EPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest"`
	EPMCSourceFilter string `envconfig:"EPMC_SOURCE_FILTER" default:"src:MED OR src:PMC OR src:CTX"`
	EPMCPageSize     int    `envconfig:"EPMC_PAGE_SIZE" default:"25"`
	EPMCPageRetries  int    `envconfig:"EPMC_PAGE_RETRIES" default:"3"`

	// Relevanz-Scoring-Webservice (ChEMBL-likeness)
	ScoringBaseURL string `envconfig:"SCORING_BASE_URL" required:"true"`

	// SFX Link-Resolver
	ResolverBaseURL   string        `envconfig:"RESOLVER_BASE_URL" required:"true"`
	ResolverCGIURL    string        `envconfig:"RESOLVER_CGI_URL" required:"true"`
	ResolverSID       string        `envconfig:"RESOLVER_SID" default:"Entrez:PubMed"`
	ResolverRetries   int           `envconfig:"RESOLVER_RETRIES" default:"3"`
	ResolverRetryWait time.Duration `envconfig:"RESOLVER_RETRY_WAIT" default:"2s"`
	ResolverMaxWait   time.Duration `envconfig:"RESOLVER_MAX_WAIT" default:"10s"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	StageWorkers   int           `envconfig:"STAGE_WORKERS" default:"5"`
	StageDeadline  time.Duration `envconfig:"STAGE_DEADLINE" default:"30m"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	// S3-Archiv für Open-Access-PDFs
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY" required:"true"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET" required:"true"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL" required:"true"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" required:"true"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
