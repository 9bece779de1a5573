// Package index 实现双索引检索核心：HNSW 向量索引与 BM25 词法倒排
// 索引，以不可变快照的形式对外发布，读路径无锁.
package index
