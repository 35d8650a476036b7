// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
查询管线、检索分支、LLM、缓存与摄取五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 指标，按业务域分组管理。

# 主要能力

  - 查询指标：查询总数与端到端耗时，按 method/status 分组。
  - 检索分支指标：分支耗时、被吸收的分支失败计数、融合池大小。
  - LLM 指标：请求总数与耗时，按 provider/operation 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 摄取指标：文档处理计数、单篇耗时、分块写入总量。
*/
package metrics
