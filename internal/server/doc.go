// 版权所有 2026 RetrievalFlow Authors

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

检索服务监听两个端口：查询 API 与 Prometheus 指标。本包通过
Manager 封装单个 net/http.Server 的监听、服务与关闭流程，
通过 Group 将多个 Manager 合并为一次启动、一次优雅关闭。

# 核心类型

  - Manager：单个 HTTP 服务器管理器，持有 http.Server、
    net.Listener 与异步错误通道，提供 Start/Shutdown 等
    生命周期方法。
  - Group：服务器组，统一启动（失败时回滚）、统一关闭，
    并监听 SIGINT/SIGTERM。
  - Config：监听配置，包含地址、读写超时、空闲超时与
    优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，主线程不阻塞。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放。
  - 信号监听：Group.WaitForShutdown 监听退出信号与服务器异常，
    触发整组优雅关闭。
  - 错误传播：Errors() 返回异步错误通道，供调用方监控服务异常。
  - 状态查询：IsRunning/Addr/BoundAddr 提供运行状态与监听地址查询。
*/
package server
