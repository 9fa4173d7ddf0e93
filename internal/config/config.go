package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Vector      VectorConfig              `json:"vector"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Embedding   EmbeddingConfig           `json:"embedding"`
	OCR         OCRConfig                 `json:"ocr"`
	Pipeline    PipelineConfig            `json:"pipeline"`
	Chunker     ChunkerConfig             `json:"chunker"`
	Cache       CacheConfig               `json:"cache"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	UploadDir         string `json:"upload_dir"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VectorConfig struct {
	ConnString string `json:"conn_string"`
	TableName  string `json:"table_name"`
	VectorDim  int    `json:"vector_dim"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type EmbeddingConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
	Dim     int    `json:"dim"`
}

type OCRConfig struct {
	APIURL    string  `json:"api_url"`
	Threshold float64 `json:"threshold"`
}

type PipelineConfig struct {
	Provider      string `json:"provider"`
	ConverterURL  string `json:"converter_url"`
	VisionWorkers int    `json:"vision_workers"`
	MinImageBytes int    `json:"min_image_bytes"`
	CallTimeout   int    `json:"call_timeout"` // seconds per external call
	Retries       int    `json:"retries"`
}

type ChunkerConfig struct {
	ChunkSize     int `json:"chunk_size"`
	ChunkOverlap  int `json:"chunk_overlap"`
	MaxChunkChars int `json:"max_chunk_chars"`
	RowGroupSize  int `json:"row_group_size"`
}

type CacheConfig struct {
	ResponseTTL         int     `json:"response_ttl"`  // seconds
	EmbeddingTTL        int     `json:"embedding_ttl"` // seconds
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxHistory          int     `json:"max_history"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	if cfg.Vector.ConnString == "" {
		return nil, fmt.Errorf("vector conn_string must be configured")
	}

	for name, db := range cfg.Databases {
		if db.DSN != "" && (name == "sqlite" || name == "sqlite3") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OCR.Threshold == 0 {
		c.OCR.Threshold = 0.70
	}
	if c.Pipeline.VisionWorkers <= 0 {
		c.Pipeline.VisionWorkers = 4
	}
	if c.Pipeline.MinImageBytes <= 0 {
		c.Pipeline.MinImageBytes = 5 << 10
	}
	if c.Pipeline.CallTimeout <= 0 {
		c.Pipeline.CallTimeout = 60
	}
	if c.Pipeline.Retries <= 0 {
		c.Pipeline.Retries = 2
	}
	if c.Chunker.ChunkSize <= 0 {
		c.Chunker.ChunkSize = 512
	}
	if c.Chunker.ChunkOverlap <= 0 {
		c.Chunker.ChunkOverlap = 64
	}
	if c.Chunker.MaxChunkChars <= 0 {
		c.Chunker.MaxChunkChars = 6000
	}
	if c.Chunker.RowGroupSize <= 0 {
		c.Chunker.RowGroupSize = 1
	}
	if c.Cache.ResponseTTL <= 0 {
		c.Cache.ResponseTTL = 3600
	}
	if c.Cache.EmbeddingTTL <= 0 {
		c.Cache.EmbeddingTTL = 86400
	}
	if c.Cache.SimilarityThreshold == 0 {
		c.Cache.SimilarityThreshold = 0.92
	}
	if c.Cache.MaxHistory <= 0 {
		c.Cache.MaxHistory = 10
	}
	if c.Vector.TableName == "" {
		c.Vector.TableName = "chunks"
	}
	if c.Vector.VectorDim <= 0 {
		c.Vector.VectorDim = 768
	}
}
