// 版权所有 2026 RetrievalFlow Authors
//
// Package config 提供 RetrievalFlow 的统一配置管理。
//
// 配置来源按优先级从低到高依次为：
//
//  1. 内置默认值（DefaultConfig）
//  2. YAML 配置文件（WithConfigPath 指定）
//  3. 环境变量（前缀 RETRIEVALFLOW_，按 env tag 映射）
//
// 典型用法：
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithValidator(func(c *config.Config) error { return c.Validate() }).
//	    Load()
//
// 环境变量映射规则：嵌套结构体的 env tag 以下划线拼接，
// 例如 Search.Alpha 对应 RETRIEVALFLOW_SEARCH_ALPHA，
// 字符串切片字段接受逗号分隔值。
package config
