// Package types 定义检索引擎共享的错误码与结构化错误类型.
package types
