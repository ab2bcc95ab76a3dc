package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/poiesic/lattice/core"
)

// EnvPrefix starts the name of every environment override.
const EnvPrefix = "LATTICE_"

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key   string
	apply func(c *Config, value string) error
}

func stringVar(set func(c *Config, v string)) func(*Config, string) error {
	return func(c *Config, v string) error {
		set(c, v)
		return nil
	}
}

func intVar(set func(c *Config, v int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func boolVar(set func(c *Config, v bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(c, b)
		return nil
	}
}

func durationVar(set func(c *Config, v time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(c, d)
		return nil
	}
}

var envBindings = []envBinding{
	{"DATA_DIR", stringVar(func(c *Config, v string) { c.Storage.DataDir = v })},
	{"IN_MEMORY", boolVar(func(c *Config, v bool) { c.Storage.InMemory = v })},
	{"VECTOR_BACKEND", stringVar(func(c *Config, v string) { c.Storage.VectorBackend = v })},
	{"GRAPH_BACKEND", stringVar(func(c *Config, v string) { c.Storage.GraphBackend = v })},
	{"POSTGRES_DSN", stringVar(func(c *Config, v string) { c.Storage.PostgresDSN = v })},
	{"SQLITE_PATH", stringVar(func(c *Config, v string) { c.Storage.SQLitePath = v })},
	{"FILES_DIR", stringVar(func(c *Config, v string) { c.Storage.FilesDir = v })},
	{"AI_HOST", stringVar(func(c *Config, v string) { c.AI.EmbeddingHost, c.AI.ChatHost = v, v })},
	{"EMBEDDING_HOST", stringVar(func(c *Config, v string) { c.AI.EmbeddingHost = v })},
	{"CHAT_HOST", stringVar(func(c *Config, v string) { c.AI.ChatHost = v })},
	{"EMBEDDING_MODEL", stringVar(func(c *Config, v string) { c.AI.EmbeddingModel = v })},
	{"CHAT_MODEL", stringVar(func(c *Config, v string) { c.AI.ChatModel = v })},
	{"API_KEY", stringVar(func(c *Config, v string) { c.AI.APIKey = v })},
	{"DIMENSION", intVar(func(c *Config, v int) { c.AI.Dimension = v })},
	{"WORKERS", intVar(func(c *Config, v int) { c.Ingestion.Workers = v })},
	{"QUEUE_SIZE", intVar(func(c *Config, v int) { c.Ingestion.QueueSize = v })},
	{"CHUNK_SIZE", intVar(func(c *Config, v int) { c.Ingestion.ChunkSize = v })},
	{"CHUNK_OVERLAP", intVar(func(c *Config, v int) { c.Ingestion.ChunkOverlap = v })},
	{"BREAKER_COOLDOWN", durationVar(func(c *Config, v time.Duration) { c.Breaker.Cooldown = v })},
	{"POOL_SIZE", intVar(func(c *Config, v int) { c.Pool.MaxSize = int32(v) })},
	{"RATE_LIMIT", boolVar(func(c *Config, v bool) { c.RateLimit.Enabled = v })},
	{"ADDRESS", stringVar(func(c *Config, v string) { c.Server.Address = v })},
}

// ApplyEnv overrides settings from LATTICE_* variables. A nil lookup reads
// the process environment. Unparseable values fail with core.ErrValidation.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, b := range envBindings {
		value, ok := lookup(EnvPrefix + b.key)
		if !ok || value == "" {
			continue
		}
		if err := b.apply(c, value); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", core.ErrValidation, EnvPrefix, b.key, value, err)
		}
	}
	return nil
}
