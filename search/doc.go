// Package search 实现混合查询管线：请求校验、结果缓存、查询改写、
// 双索引并发扇出、分数融合、元数据过滤、截断与尽力而为的重排序.
package search
