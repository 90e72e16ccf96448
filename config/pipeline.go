package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig tunes the ingestion pipeline. Defaults may be overridden by
// the YAML file named in PIPELINE_CONFIG.
type PipelineConfig struct {
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	EmbedConcurrency  int           `yaml:"embed_concurrency"`
	WriteBatchSize    int           `yaml:"write_batch_size"`
	QuestionPageBatch int           `yaml:"question_page_batch"`
	Temperature       float64       `yaml:"temperature"`
	WorkerPoolSize    int           `yaml:"worker_pool_size"`
	QueueConcurrency  int           `yaml:"queue_concurrency"`
	ArchiveRetention  time.Duration `yaml:"archive_retention"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// DefaultPipelineConfig returns the built-in tuning values.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxUploadBytes:    20 << 20,
		EmbedConcurrency:  10,
		WriteBatchSize:    20,
		QuestionPageBatch: 5,
		Temperature:       0.2,
		WorkerPoolSize:    16,
		QueueConcurrency:  4,
		ArchiveRetention:  30 * 24 * time.Hour,
		CleanupInterval:   time.Hour,
	}
}

// LoadPipelineConfig overlays the YAML file at path on the defaults. An
// empty path returns the defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *PipelineConfig) validate() error {
	switch {
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive")
	case c.EmbedConcurrency <= 0:
		return fmt.Errorf("embed_concurrency must be positive")
	case c.WriteBatchSize <= 0:
		return fmt.Errorf("write_batch_size must be positive")
	case c.QuestionPageBatch <= 0:
		return fmt.Errorf("question_page_batch must be positive")
	case c.WorkerPoolSize <= 0:
		return fmt.Errorf("worker_pool_size must be positive")
	}
	return nil
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()

		cfg, err := LoadPipelineConfig(envString("PIPELINE_CONFIG", ""))
		if err != nil {
			log.Printf("Warning: %v, using defaults", err)
			cfg = DefaultPipelineConfig()
		}
		pipelineConfig = cfg
	})
	return pipelineConfig
}
