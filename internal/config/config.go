// Package config loads the engine's configuration from a YAML file plus
// environment overrides, following the same viper-based approach the
// teacher's command-line tooling uses for its own config.yaml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed projection of every key enumerated in spec.md §6.
type Config struct {
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	DHPO      DHPOConfig      `mapstructure:"dhpo"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type IngestionConfig struct {
	PollMS                  int           `mapstructure:"poll_ms"`
	ParserWorkers           int           `mapstructure:"parser_workers"`
	QueueCapacity           int           `mapstructure:"queue_capacity"`
	BatchSize               int           `mapstructure:"batch_size"`
	TxPerFile               bool          `mapstructure:"tx_per_file"`
	TxPerChunkThreshold      int           `mapstructure:"tx_per_chunk_threshold"`
	HashSensitive           bool          `mapstructure:"hash_sensitive"`
	AckEnabled              bool          `mapstructure:"ack_enabled"`
	SOAPTransport           string        `mapstructure:"soap_transport"` // "http" | "ws"
	SOAP12                  bool          `mapstructure:"soap12"`
	PauseHighWatermark      float64       `mapstructure:"pause_high_watermark"`
	ResumeLowWatermark      float64       `mapstructure:"resume_low_watermark"`
	PerFileBudget           time.Duration `mapstructure:"per_file_budget"`
	FetchBackend            string        `mapstructure:"fetch_backend"` // "localfs" | "soap"
	LocalFSReadyDir         string        `mapstructure:"localfs_ready_dir"`
	LocalFSArchiveDir       string        `mapstructure:"localfs_archive_dir"`
	LocalFSFailedDir        string        `mapstructure:"localfs_failed_dir"`
	MaxAttachmentBytes      int64         `mapstructure:"max_attachment_bytes"`
	AllowNonSchemaAttachments bool        `mapstructure:"allow_non_schema_attachments"`
	FailOnXSDError          bool          `mapstructure:"fail_on_xsd_error"`
}

type DHPOConfig struct {
	SearchDaysBack         int           `mapstructure:"search_days_back"`
	RetriesOnMinus4        int           `mapstructure:"retries_on_minus4"`
	StageToDiskThresholdMB int64         `mapstructure:"stage_to_disk_threshold_mb"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	PollJitter             time.Duration `mapstructure:"poll_jitter"`
	UseGetNewTransactions  bool          `mapstructure:"use_get_new_transactions"`
}

type ClaimsConfig struct {
	AMEStorePass    string `mapstructure:"ame_store_pass"`
	KeystorePath    string `mapstructure:"keystore_path"`
	RefdataAutoInsert bool `mapstructure:"refdata_auto_insert"`
}

type DatabaseConfig struct {
	WriterDSN string `mapstructure:"writer_dsn"`
	ReaderDSN string `mapstructure:"reader_dsn"`
}

type TelemetryConfig struct {
	Development   bool   `mapstructure:"development"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

// Load reads path (a YAML file) and layers environment variables with
// prefix CLAIMS_ (e.g. CLAIMS_INGESTION_ACK_ENABLED=true) over it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CLAIMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ingestion.poll_ms", 500)
	v.SetDefault("ingestion.parser_workers", 4)
	v.SetDefault("ingestion.queue_capacity", 1024)
	v.SetDefault("ingestion.batch_size", 1000)
	v.SetDefault("ingestion.tx_per_file", true)
	v.SetDefault("ingestion.tx_per_chunk_threshold", 5000)
	v.SetDefault("ingestion.hash_sensitive", false)
	v.SetDefault("ingestion.ack_enabled", false)
	v.SetDefault("ingestion.soap_transport", "http")
	v.SetDefault("ingestion.soap12", false)
	v.SetDefault("ingestion.pause_high_watermark", 0.75)
	v.SetDefault("ingestion.resume_low_watermark", 0.50)
	v.SetDefault("ingestion.per_file_budget", "5m")
	v.SetDefault("ingestion.fetch_backend", "localfs")
	v.SetDefault("ingestion.localfs_ready_dir", "./data/ready")
	v.SetDefault("ingestion.localfs_archive_dir", "./data/archive")
	v.SetDefault("ingestion.localfs_failed_dir", "./data/failed")
	v.SetDefault("ingestion.max_attachment_bytes", 10*1024*1024)
	v.SetDefault("ingestion.allow_non_schema_attachments", true)
	v.SetDefault("ingestion.fail_on_xsd_error", false)

	v.SetDefault("dhpo.search_days_back", 7)
	v.SetDefault("dhpo.retries_on_minus4", 3)
	v.SetDefault("dhpo.stage_to_disk_threshold_mb", 8)
	v.SetDefault("dhpo.poll_interval", "30m")
	v.SetDefault("dhpo.poll_jitter", "2m")
	v.SetDefault("dhpo.use_get_new_transactions", true)

	v.SetDefault("claims.refdata_auto_insert", false)

	v.SetDefault("telemetry.development", false)
}
