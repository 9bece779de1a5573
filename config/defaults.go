// =============================================================================
// 📦 RetrievalFlow 默认配置
// =============================================================================
// 为各子系统提供开箱即用的默认值，YAML 文件与环境变量在其上覆盖
// =============================================================================
package config

import "time"

// DefaultConfig 返回完整的默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Chunking:  DefaultChunkingConfig(),
		Index:     DefaultIndexConfig(),
		Search:    DefaultSearchConfig(),
		Rerank:    DefaultRerankConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    0,
		RateLimitBurst:  50,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
		CacheTTL: 5 * time.Minute,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入网关配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:      "https://api.openai.com/v1",
		Model:        "text-embedding-3-small",
		Dimensions:   1536,
		Timeout:      30 * time.Second,
		BatchSize:    64,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Size:              500,
		Overlap:           100,
		MinChunkTokens:    20,
		BoundaryTolerance: 0.15,
	}
}

// DefaultIndexConfig 返回默认索引配置
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		DataDir:            "",
		MetaPath:           "retrievalflow.db",
		HNSWM:              16,
		HNSWEfConstruction: 200,
		HNSWEfSearch:       100,
		BM25K1:             1.5,
		BM25B:              0.75,
		PhraseBoost:        1.2,
	}
}

// DefaultSearchConfig 返回默认查询管线配置
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Alpha:             0.6,
		OverFetchFactor:   3,
		RequestTimeout:    10 * time.Second,
		EmbedTimeout:      3 * time.Second,
		RerankTimeout:     5 * time.Second,
		PreferredLicenses: []string{"MIT", "Apache-2.0", "BSD-3-Clause"},
		LicenseBoost:      1.0,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:            false,
		BaseURL:            "https://api.openai.com/v1",
		Model:              "gpt-4o-mini",
		Timeout:            5 * time.Second,
		MaxCandidates:      20,
		RationaleMaxLength: 150,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "retrievalflow",
		SampleRate:   1.0,
	}
}
