// Package rerank 提供候选结果的二次相关性打分与理由生成.
// 重排序是尽力而为的增强阶段：失败或超时由查询引擎回退到
// 融合排序，不影响请求成功.
package rerank
