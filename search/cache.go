package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存未命中.
var ErrCacheMiss = errors.New("cache miss")

// CacheConfig 结果缓存配置.
type CacheConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 结果过期时间
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultCacheConfig 返回默认缓存配置.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		TTL:      5 * time.Minute,
		PoolSize: 10,
	}
}

// ResultCache 基于 Redis 的检索结果缓存.
// 条目携带写入时的快照版本，版本不一致视为过期，不论 TTL.
type ResultCache struct {
	redis  *redis.Client
	config CacheConfig
	logger *zap.Logger
}

// NewResultCache 创建结果缓存并验证连接.
func NewResultCache(config CacheConfig, logger *zap.Logger) (*ResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("result cache initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL))

	return &ResultCache{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "result_cache")),
	}, nil
}

// cacheEntry 缓存条目.
type cacheEntry struct {
	SnapshotVersion int64    `json:"snapshot_version"`
	Response        Response `json:"response"`
}

// CacheKey 请求的缓存键：查询、模式、TopK、过滤条件与理由开关
// 的规范化哈希.
func CacheKey(req *Request) string {
	var sb strings.Builder
	sb.WriteString(req.Query)
	sb.WriteString("|")
	sb.WriteString(string(req.Mode))
	fmt.Fprintf(&sb, "|%d|", req.TopK)

	licenses := append([]string(nil), req.Filters.Licenses...)
	sort.Strings(licenses)
	sb.WriteString(strings.Join(licenses, ","))
	sb.WriteString("|")

	tags := append([]string(nil), req.Filters.Tags...)
	sort.Strings(tags)
	sb.WriteString(strings.Join(tags, ","))
	sb.WriteString("|")

	if req.Filters.MinQualityScore != nil {
		fmt.Fprintf(&sb, "%g", *req.Filters.MinQualityScore)
	}
	fmt.Fprintf(&sb, "|%t", req.IncludeRationale)

	sum := sha256.Sum256([]byte(sb.String()))
	return "search:" + hex.EncodeToString(sum[:])
}

// Get 读取缓存结果.
// 未命中或快照版本不一致返回 ErrCacheMiss；Redis 故障同样按未命中
// 处理，缓存异常不能影响请求成功.
func (c *ResultCache) Get(ctx context.Context, key string, snapshotVersion int64) (*Response, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.Error(err))
		return nil, ErrCacheMiss
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", zap.Error(err))
		return nil, ErrCacheMiss
	}

	if entry.SnapshotVersion != snapshotVersion {
		return nil, ErrCacheMiss
	}

	return &entry.Response, nil
}

// Set 写入缓存结果，失败只记日志.
func (c *ResultCache) Set(ctx context.Context, key string, snapshotVersion int64, resp *Response) {
	data, err := json.Marshal(cacheEntry{
		SnapshotVersion: snapshotVersion,
		Response:        *resp,
	})
	if err != nil {
		c.logger.Warn("cache entry encode failed", zap.Error(err))
		return
	}

	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// Close 关闭 Redis 连接.
func (c *ResultCache) Close() error {
	return c.redis.Close()
}
