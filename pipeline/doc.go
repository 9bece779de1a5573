// 版权所有 2026 RetrievalFlow Authors
//
// Package pipeline 将分块、嵌入与索引发布串联为文档摄取流水线。
//
// Ingestor 按批接收文档：逐文档分块（空文档与过小文档跳过不阻塞
// 批次）、元数据落库、批量嵌入、构建并原子发布新快照。嵌入服务
// 不可用时降级为仅词法索引。文档删除以墓碑标记，重建时物理清除。
package pipeline
