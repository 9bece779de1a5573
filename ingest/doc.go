// Package ingest 将规范化文档切分为可索引的 Chunk 序列.
//
// 分块是输入与配置的纯函数：相同的 (文档, 配置) 总是产生相同的
// ChunkID 序列，保证重复摄取幂等。
package ingest
