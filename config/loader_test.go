// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证 Database 默认值
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)

	// 验证 LLM 默认值
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "text-embedding-3-small", cfg.LLM.EmbeddingModel)
	assert.Equal(t, 1536, cfg.LLM.EmbeddingDimensions)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)

	// 验证检索默认值
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.BranchTimeout)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)

	// 验证摄取默认值
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Pipeline.TopN)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  driver: postgres
  host: db.internal
  port: 5433
retrieval:
  top_k: 40
  branch_timeout: 5s
pipeline:
  top_n: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 40, cfg.Retrieval.TopK)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.BranchTimeout)
	assert.Equal(t, 8, cfg.Pipeline.TopN)
	// 未覆盖的字段保持默认
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("RAGFORGE_DATABASE_DRIVER", "sqlite")
	t.Setenv("RAGFORGE_DATABASE_NAME", "test.db")
	t.Setenv("RAGFORGE_RETRIEVAL_TOP_K", "7")
	t.Setenv("RAGFORGE_RETRIEVAL_BRANCH_TIMEOUT", "750ms")
	t.Setenv("RAGFORGE_METRICS_ENABLED", "true")
	t.Setenv("RAGFORGE_LOG_OUTPUT_PATHS", "stdout, /var/log/ragforge.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "test.db", cfg.Database.Name)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, 750*time.Millisecond, cfg.Retrieval.BranchTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/ragforge.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  top_n: 3\n"), 0o644))

	t.Setenv("RAGFORGE_PIPELINE_TOP_N", "11")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Pipeline.TopN)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_PIPELINE_TOP_N", "9")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pipeline.TopN)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)

	t.Setenv("RAGFORGE_DATABASE_DRIVER", "oracle")
	_, err = NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

// --- 验证与 DSN 测试 ---

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retrieval.TopK = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "h", Port: 5432,
		User: "u", Password: "p", Name: "db", SSLMode: "disable",
	}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=db sslmode=disable", pg.DSN())

	sq := DatabaseConfig{Driver: "sqlite", Name: "file.db"}
	assert.Equal(t, "file.db", sq.DSN())

	mem := DatabaseConfig{Driver: "memory"}
	assert.Equal(t, "", mem.DSN())
}
