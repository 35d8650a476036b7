// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// =============================================================================
// RAGForge 主入口
// =============================================================================
// 命令行入口，装配完整的混合检索 RAG 管线
//
// 使用方法:
//
//	ragforge query --project demo "如何配置告警规则?"   # 执行一次查询
//	ragforge ingest --project demo --title t doc.txt  # 摄取一篇文档
//	ragforge status --id <document-id>                # 查询摄取状态
//	ragforge version                                  # 显示版本信息
// =============================================================================
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/ragforge/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "query":
		runQuery(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并验证配置，失败直接退出。
func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func commonFlags(fs *flag.FlagSet) (configPath, project *string) {
	configPath = fs.String("config", "", "Path to config file")
	project = fs.String("project", "default", "Project ID")
	return
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("RAGForge %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`RAGForge - Hybrid Retrieval RAG Pipeline

Usage:
  ragforge <command> [options]

Commands:
  query     Run a query through the pipeline
  ingest    Ingest a document and wait for completion
  status    Show ingestion status of a document
  version   Show version information
  help      Show this help message

Options for 'query':
  --config <path>    Path to configuration file (YAML)
  --project <id>     Project ID (default "default")
  --method <m>       Retrieval method: hybrid, vector, graph, keyword
  --top-k <n>        Candidates per retrieval branch
  --no-cache         Bypass the query cache

Options for 'ingest':
  --config <path>    Path to configuration file (YAML)
  --project <id>     Project ID
  --title <title>    Document title (defaults to file name)
  --source <url>     Document source

Examples:
  ragforge query --project demo "how do I configure alerting?"
  ragforge query --method vector --top-k 10 "what is RRF?"
  ragforge ingest --project demo --title "runbook" ./runbook.md
  ragforge status --id 4f7c2c1e-...
  ragforge version`)
}
