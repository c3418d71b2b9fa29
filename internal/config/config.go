package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	Server    ServerConfig     `json:"server"`
	Database  DatabaseConfig   `json:"database"`
	Pipeline  PipelineConfig   `json:"pipeline"`
	AI        AIConfig         `json:"ai"`
	FileStore FileStoreConfig  `json:"file_store"`
	Notifier  NotifierConfig   `json:"notifier"`
	Schedule  ScheduleConfig   `json:"schedule"`
}

type ServerConfig struct {
	MaxUploadMB        int64    `json:"max_upload_mb"`
	UploadWindowMillis int64    `json:"upload_window_millis"`
	AnswerWindowMillis int64    `json:"answer_window_millis"`
	CORSAllowlist      []string `json:"cors_allowlist"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type PipelineConfig struct {
	Workers            int   `json:"workers"`
	QueueLimit         int   `json:"queue_limit"`
	MaxAttempts        int   `json:"max_attempts"`
	BaseBackoffMillis  int64 `json:"base_backoff_millis"`
	MaxBackoffMillis   int64 `json:"max_backoff_millis"`
	PollIntervalMillis int64 `json:"poll_interval_millis"`
	AdapterTimeout     int   `json:"adapter_timeout_seconds"`
	JobKeepDays        int   `json:"job_keep_days"`
}

type AIConfig struct {
	Provider        string      `json:"provider"`
	Data            interface{} `json:"data"`
	GenerateModel   string      `json:"generate_model"`
	TranscribeModel string      `json:"transcribe_model"`
	EmbedModel      string      `json:"embed_model"`
	MaxInputChars   int         `json:"max_input_chars"`
	Timeout         int         `json:"timeout"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type NotifierConfig struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Timeout int    `json:"timeout"`
}

type ScheduleConfig struct {
	ReindexSpec   string `json:"reindex_spec"`
	ReconcileSpec string `json:"reconcile_spec"`
	JobPurgeSpec  string `json:"job_purge_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.AI.Provider == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.EmbedModel == "" {
		return nil, fmt.Errorf("ai.embed_model is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = "none"
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 32
	}
	applyPipelineDefaults(&cfg.Pipeline)
	applyScheduleDefaults(&cfg.Schedule)
	// adapter calls must never run without a deadline
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = cfg.Pipeline.AdapterTimeout
	}
	return &cfg, nil
}

func applyPipelineDefaults(p *PipelineConfig) {
	if p.Workers <= 0 {
		p.Workers = 4
	}
	if p.QueueLimit <= 0 {
		p.QueueLimit = 256
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseBackoffMillis <= 0 {
		p.BaseBackoffMillis = 2000
	}
	if p.MaxBackoffMillis <= 0 {
		p.MaxBackoffMillis = 60000
	}
	if p.PollIntervalMillis <= 0 {
		p.PollIntervalMillis = 500
	}
	if p.AdapterTimeout <= 0 {
		p.AdapterTimeout = 120
	}
	if p.JobKeepDays <= 0 {
		p.JobKeepDays = 7
	}
}

func applyScheduleDefaults(s *ScheduleConfig) {
	if s.ReindexSpec == "" {
		s.ReindexSpec = "*/30 * * * *"
	}
	if s.ReconcileSpec == "" {
		s.ReconcileSpec = "*/5 * * * *"
	}
	if s.JobPurgeSpec == "" {
		s.JobPurgeSpec = "0 4 * * *"
	}
}
