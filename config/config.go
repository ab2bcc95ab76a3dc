// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPgvector = "pgvector"
	BackendSQLite   = "sqlite"
)

// Config is the complete engine configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	AI        ai.Config       `yaml:"ai"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Pool      PoolConfig      `yaml:"pool"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
}

// StorageConfig selects and locates the stores.
type StorageConfig struct {
	// DataDir holds the badger database, the uploaded files and, with the
	// sqlite graph backend, the graph database.
	DataDir string `yaml:"data_dir" validate:"required_unless=InMemory true"`

	// InMemory keeps badger in memory. Uploaded files still go to disk.
	InMemory bool `yaml:"in_memory"`

	VectorBackend string `yaml:"vector_backend" validate:"oneof=badger pgvector"`
	GraphBackend  string `yaml:"graph_backend" validate:"oneof=badger sqlite"`

	PostgresDSN   string `yaml:"postgres_dsn" validate:"required_if=VectorBackend pgvector"`
	PostgresTable string `yaml:"postgres_table"`

	// SQLitePath defaults to graph.db inside DataDir.
	SQLitePath string `yaml:"sqlite_path"`

	// FilesDir defaults to files inside DataDir.
	FilesDir string `yaml:"files_dir"`
}

// GraphPath returns where the sqlite graph database lives.
func (s StorageConfig) GraphPath() string {
	if s.SQLitePath != "" {
		return s.SQLitePath
	}
	return filepath.Join(s.DataDir, "graph.db")
}

// FilesPath returns the root directory of uploaded files.
func (s StorageConfig) FilesPath() string {
	if s.FilesDir != "" {
		return s.FilesDir
	}
	if s.DataDir == "" {
		return filepath.Join(os.TempDir(), "lattice-files")
	}
	return filepath.Join(s.DataDir, "files")
}

// IngestionConfig sizes the ingestion pipeline.
type IngestionConfig struct {
	Workers            int           `yaml:"workers" validate:"min=1"`
	BriefingWorkers    int           `yaml:"briefing_workers" validate:"min=1"`
	QueueSize          int           `yaml:"queue_size" validate:"min=1"`
	ChunkSize          int           `yaml:"chunk_size" validate:"min=1"`
	ChunkOverlap       int           `yaml:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`
	EmbedBatchSize     int           `yaml:"embed_batch_size" validate:"min=1"`
	ExtractConcurrency int           `yaml:"extract_concurrency" validate:"min=1"`
	BriefingBudget     int           `yaml:"briefing_budget" validate:"min=0"` // 0 disables briefings
	TaskRetention      time.Duration `yaml:"task_retention" validate:"gt=0"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	TopK              int           `yaml:"top_k" validate:"min=1"`
	CandidateK        int           `yaml:"candidate_k" validate:"min=1"`
	RRFK              int           `yaml:"rrf_k" validate:"min=1"`
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl" validate:"gt=0"`
}

// BreakerConfig is shared by the breaker of every dependency.
type BreakerConfig struct {
	Threshold uint32        `yaml:"threshold" validate:"min=1"`
	Cooldown  time.Duration `yaml:"cooldown" validate:"gt=0"`
}

// PoolConfig sizes the pool of every store dependency.
type PoolConfig struct {
	MaxSize        int32         `yaml:"max_size" validate:"min=1"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
	MaxLifetime    time.Duration `yaml:"max_lifetime" validate:"min=0"`
}

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Capacity   int     `yaml:"capacity" validate:"min=1"`
	RefillRate float64 `yaml:"refill_rate" validate:"gt=0"`
}

// RateLimitConfig throttles API clients. PerClient is keyed by client IP.
type RateLimitConfig struct {
	Enabled   bool         `yaml:"enabled"`
	PerClient BucketConfig `yaml:"per_client"`
	Global    BucketConfig `yaml:"global"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	BodyLimit       int           `yaml:"body_limit" validate:"min=1"` // bytes
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Default returns a configuration that runs entirely on local badger stores.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:       "lattice-data",
			VectorBackend: BackendBadger,
			GraphBackend:  BackendBadger,
			PostgresTable: "chunks",
		},
		AI: *ai.DefaultConfig(),
		Ingestion: IngestionConfig{
			Workers:            max(runtime.NumCPU()/2, 1),
			BriefingWorkers:    1,
			QueueSize:          64,
			ChunkSize:          1000,
			ChunkOverlap:       200,
			EmbedBatchSize:     32,
			ExtractConcurrency: 4,
			BriefingBudget:     8000,
			TaskRetention:      time.Hour,
		},
		Retrieval: RetrievalConfig{
			TopK:              10,
			CandidateK:        50,
			RRFK:              60,
			EmbeddingCacheTTL: 10 * time.Minute,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  30 * time.Second,
		},
		Pool: PoolConfig{
			MaxSize:        8,
			AcquireTimeout: 5 * time.Second,
			MaxLifetime:    30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerClient: BucketConfig{Capacity: 20, RefillRate: 5},
			Global:    BucketConfig{Capacity: 200, RefillRate: 50},
		},
		Server: ServerConfig{
			Address:         ":8080",
			BodyLimit:       32 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section. Failures wrap core.ErrValidation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, len(fieldErrs))
			for i, fe := range fieldErrs {
				msgs[i] = describe(fe)
			}
			return fmt.Errorf("%w: config: %s", core.ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: config: %w", core.ErrValidation, err)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "ltfield":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", field, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
