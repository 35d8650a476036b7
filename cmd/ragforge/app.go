// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragforge/cache"
	"github.com/BaSui01/ragforge/compress"
	"github.com/BaSui01/ragforge/config"
	"github.com/BaSui01/ragforge/generate"
	"github.com/BaSui01/ragforge/graph"
	"github.com/BaSui01/ragforge/ingest"
	"github.com/BaSui01/ragforge/internal/database"
	"github.com/BaSui01/ragforge/internal/metrics"
	"github.com/BaSui01/ragforge/keyword"
	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/pipeline"
	"github.com/BaSui01/ragforge/retrieval"
	"github.com/BaSui01/ragforge/store"
	"github.com/BaSui01/ragforge/transform"
	"github.com/BaSui01/ragforge/types"
)

// app 持有装配完成的管线与其生命周期。
type app struct {
	pipe     *pipeline.Pipeline
	ingestor *ingest.Pipeline
	logger   *zap.Logger
	closers  []func()
}

func (a *app) Close() {
	a.ingestor.Stop()
	for _, fn := range a.closers {
		fn()
	}
	a.logger.Sync()
}

// buildApp 根据配置装配完整管线。
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := initLogger(cfg.Log)

	logger.Info("starting ragforge",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	var closers []func()

	// 存储层
	docs, graphStore, closeDB, err := openStores(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if closeDB != nil {
		closers = append(closers, closeDB)
	}
	keywordIndex := keyword.NewIndex(keyword.DefaultConfig(), logger)

	// 数据库驱动下文档跨进程存活，内存关键词索引需要从
	// 已完成文档重建，否则词法分支对历史文档零覆盖
	if closeDB != nil {
		if err := rebuildKeywordIndex(ctx, docs, keywordIndex, logger); err != nil {
			return nil, err
		}
	}

	// 查询缓存
	queryCache, closeCache := openCache(cfg, logger)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	// 指标
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		if cfg.Metrics.ListenAddr != "" {
			serveMetrics(cfg.Metrics.ListenAddr, logger)
		}
	}

	// LLM 提供者，全部经过超时+重试包装
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Dimensions:     cfg.LLM.EmbeddingDimensions,
		Timeout:        cfg.LLM.Timeout,
	})
	resilient := llm.ResilientConfig{
		Timeout:   cfg.LLM.Timeout,
		Retry:     llm.DefaultRetryPolicy(),
		Collector: collector,
	}
	if cfg.LLM.MaxRetries > 0 {
		resilient.Retry.MaxRetries = cfg.LLM.MaxRetries
	}
	gen := llm.NewResilientGenerator(provider, resilient, logger)
	embedder := llm.NewResilientEmbedder(provider, resilient, logger)

	var rerankProvider llm.RerankProvider
	if cfg.Rerank.APIKey != "" {
		rerankProvider = llm.NewJinaReranker(llm.JinaRerankConfig{
			APIKey:  cfg.Rerank.APIKey,
			BaseURL: cfg.Rerank.BaseURL,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.Rerank.Timeout,
		})
	}

	// 摄取管线
	ingestCfg := ingest.DefaultConfig()
	ingestCfg.Workers = cfg.Ingest.Workers
	ingestCfg.QueueSize = cfg.Ingest.QueueSize
	ingestCfg.Chunker.ChunkSize = cfg.Ingest.ChunkSize
	ingestCfg.Chunker.ChunkOverlap = cfg.Ingest.ChunkOverlap
	ingestor := ingest.NewPipeline(ingestCfg, docs, graphStore, keywordIndex, embedder, gen, collector, logger)
	ingestor.Start(ctx)

	// 查询管线
	retrievalCfg := retrieval.DefaultConfig()
	retrievalCfg.TopK = cfg.Retrieval.TopK
	retrievalCfg.BranchTimeout = cfg.Retrieval.BranchTimeout
	retrievalCfg.RRFK = cfg.Retrieval.RRFK

	generateCfg := generate.DefaultConfig()
	generateCfg.MaxContextTokens = cfg.Pipeline.MaxContextTokens

	pipe := pipeline.New(
		pipeline.Config{TopN: cfg.Pipeline.TopN, CacheTTL: cfg.Pipeline.CacheTTL},
		transform.NewTransformer(transform.DefaultConfig(), gen, logger),
		retrieval.NewHybridRetriever(retrievalCfg, docs, embedder, graphStore, keywordIndex, collector, logger),
		retrieval.NewReranker(rerankProvider, logger),
		compress.NewCompressor(compress.DefaultConfig(), gen, logger),
		generate.NewGenerator(generateCfg, gen, generate.NewTokenizer(cfg.LLM.Model, logger), logger),
		ingestor,
		docs,
		queryCache,
		collector,
		logger,
	)

	return &app{pipe: pipe, ingestor: ingestor, logger: logger, closers: closers}, nil
}

// openStores 根据驱动选择存储实现。
// 向量检索依赖 pgvector，仅 postgres 驱动使用数据库存储分块；
// sqlite 驱动下文档分块留在内存，图谱仍落库。
func openStores(dbCfg config.DatabaseConfig, logger *zap.Logger) (store.DocumentStore, graph.Store, func(), error) {
	if dbCfg.Driver == "memory" {
		return store.NewMemoryStore(logger), graph.NewMemoryStore(logger), nil, nil
	}

	conn, err := database.Open(database.Config{
		Driver:              dbCfg.Driver,
		DSN:                 dbCfg.DSN(),
		MaxIdleConns:        dbCfg.MaxIdleConns,
		MaxOpenConns:        dbCfg.MaxOpenConns,
		ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
		HealthCheckInterval: dbCfg.HealthCheckInterval,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() { conn.Close() }

	graphStore, err := graph.NewGormStore(conn.DB(), logger)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	if dbCfg.Driver == "sqlite" {
		return store.NewMemoryStore(logger), graphStore, closeDB, nil
	}

	docs, err := store.NewGormStore(conn.DB(), logger)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	return docs, graphStore, closeDB, nil
}

// rebuildKeywordIndex 启动时把已完成文档的分块重新写入内存关键词索引。
func rebuildKeywordIndex(ctx context.Context, docs store.DocumentStore, idx *keyword.Index, logger *zap.Logger) error {
	completed, err := docs.CompletedDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list completed documents: %w", err)
	}
	for _, doc := range completed {
		chunks, err := docs.ChunksByDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("load chunks for %s: %w", doc.ID, err)
		}
		if len(chunks) == 0 {
			continue
		}
		if err := idx.IndexChunks(ctx, doc.ProjectID, doc.ID, doc.Title, chunks); err != nil {
			return fmt.Errorf("index chunks for %s: %w", doc.ID, err)
		}
	}
	if len(completed) > 0 {
		logger.Info("keyword index rebuilt",
			zap.Int("documents", len(completed)),
			zap.Int("chunks", idx.Size()))
	}
	return nil
}

// openCache Redis 地址非空时使用 Redis，否则进程内缓存。
func openCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, func()) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		logger.Info("query cache backed by redis", zap.String("addr", cfg.Redis.Addr))
		return cache.NewRedisCache(client, cfg.Pipeline.CacheTTL, logger), func() { client.Close() }
	}
	mem := cache.NewMemoryCache(cfg.Pipeline.CacheTTL, logger)
	return mem, mem.Close
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
}

// =============================================================================
// 🖥️ 子命令
// =============================================================================

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath, project := commonFlags(fs)
	method := fs.String("method", "hybrid", "Retrieval method")
	topK := fs.Int("top-k", 0, "Candidates per retrieval branch")
	noCache := fs.Bool("no-cache", false, "Bypass the query cache")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "query: missing query text")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	resp, err := a.pipe.Query(ctx, pipeline.QueryRequest{
		ProjectID: *project,
		Query:     fs.Arg(0),
		Method:    types.RetrievalMethod(*method),
		TopK:      *topK,
		NoCache:   *noCache,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range resp.Sources {
			fmt.Printf("  [%d] %s (score %.3f)\n", s.Index, s.Title, s.Score)
		}
	}
	fmt.Printf("\n(%d documents via %s retrieval)\n", resp.DocumentsRetrieved, resp.RetrievalMethod)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath, project := commonFlags(fs)
	title := fs.String("title", "", "Document title")
	source := fs.String("source", "", "Document source")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "ingest: missing input file")
		os.Exit(1)
	}
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read %s: %v\n", path, err)
		os.Exit(1)
	}
	if *title == "" {
		*title = filepath.Base(path)
	}

	cfg := loadConfig(*configPath)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	doc, err := a.pipe.Ingest(ctx, &types.Document{
		ProjectID:  *project,
		Title:      *title,
		Source:     *source,
		RawContent: string(content),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Submitted document %s (version %d)\n", doc.ID, doc.Version)

	// 轮询直到终态
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "Interrupted while waiting for ingestion")
			os.Exit(1)
		case <-ticker.C:
		}
		current, err := a.pipe.GetDocument(ctx, doc.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot fetch document status: %v\n", err)
			os.Exit(1)
		}
		if !current.Status.Terminal() {
			continue
		}
		if current.Status == types.StatusFailed {
			fmt.Fprintf(os.Stderr, "Ingestion failed: %s\n", current.Error)
			os.Exit(1)
		}
		fmt.Printf("Ingested %q: %d chunks, summary: %s\n", current.Title, current.ChunkCount, current.Summary)
		return
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, _ := commonFlags(fs)
	id := fs.String("id", "", "Document ID")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "status: missing --id")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	doc, err := a.pipe.GetDocument(ctx, *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot fetch document: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document:  %s\n", doc.ID)
	fmt.Printf("  Title:   %s\n", doc.Title)
	fmt.Printf("  Project: %s\n", doc.ProjectID)
	fmt.Printf("  Version: %d\n", doc.Version)
	fmt.Printf("  Status:  %s\n", doc.Status)
	if doc.Error != "" {
		fmt.Printf("  Error:   %s\n", doc.Error)
	}
	if doc.Status == types.StatusCompleted {
		fmt.Printf("  Chunks:  %d\n", doc.ChunkCount)
		fmt.Printf("  Summary: %s\n", doc.Summary)
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
