// 版权所有 2026 RetrievalFlow Authors

/*
Package main 提供 RetrievalFlow 服务端程序入口。

# 概述

cmd/retrievalflow 是混合检索与重排序引擎的可执行入口，提供查询 API、
文档摄取、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 遥测。

# 核心类型

  - Server           — 主服务器，管理 API、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - API 路由：POST /v1/search、POST /v1/documents、
    DELETE /v1/documents/{id}、POST /v1/rebuild、GET /v1/stats
  - 中间件链：Recovery、RequestID（google/uuid）、RequestLogger、
    MetricsMiddleware、RateLimiter（基于 IP 的令牌桶）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 启动恢复：从持久化目录加载最新索引快照
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭缓存与元数据库 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
