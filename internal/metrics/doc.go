// 版权所有 2026 RetrievalFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、检索、嵌入、缓存与索引五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 检索指标：请求总数、耗时、结果数分布、降级计数与重排序结果，
    按 mode/status/outcome 分组。
  - 嵌入指标：上游请求总数与耗时，按 provider 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 索引指标：快照内分块数 Gauge、当前快照版本 Gauge、
    重建次数计数，按 index/status 分组。
*/
package metrics
