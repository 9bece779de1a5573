// Package embedding 提供嵌入提供者接口与带退避重试、熔断、
// 内容哈希缓存的嵌入网关.
package embedding
