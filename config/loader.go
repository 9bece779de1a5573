// =============================================================================
// 📦 RetrievalFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RETRIEVALFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 RetrievalFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 结果缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Embedding 嵌入网关配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Chunking 分块配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Index 索引配置
	Index IndexConfig `yaml:"index" env:"INDEX"`

	// Search 查询管线配置
	Search SearchConfig `yaml:"search" env:"SEARCH"`

	// Rerank 重排序配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 限速（每秒请求数，0 表示不限）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限速突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 结果缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// EmbeddingConfig 嵌入网关配置
type EmbeddingConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 嵌入维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 批量大小
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 上游限速（每秒请求数）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	// 每块新增 Token 数
	Size int `yaml:"size" env:"SIZE"`
	// 相邻块共享 Token 数
	Overlap int `yaml:"overlap" env:"OVERLAP"`
	// 最小分块 Token 数
	MinChunkTokens int `yaml:"min_chunk_tokens" env:"MIN_CHUNK_TOKENS"`
	// 句界搜索容差（相对 Size 的比例）
	BoundaryTolerance float64 `yaml:"boundary_tolerance" env:"BOUNDARY_TOLERANCE"`
}

// IndexConfig 索引配置
type IndexConfig struct {
	// 快照持久化目录，空表示仅驻内存
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	// 元数据库路径
	MetaPath string `yaml:"meta_path" env:"META_PATH"`
	// HNSW 每层最大连接数
	HNSWM int `yaml:"hnsw_m" env:"HNSW_M"`
	// HNSW 构建搜索宽度
	HNSWEfConstruction int `yaml:"hnsw_ef_construction" env:"HNSW_EF_CONSTRUCTION"`
	// HNSW 搜索宽度
	HNSWEfSearch int `yaml:"hnsw_ef_search" env:"HNSW_EF_SEARCH"`
	// BM25 词频饱和参数
	BM25K1 float64 `yaml:"bm25_k1" env:"BM25_K1"`
	// BM25 长度归一化参数
	BM25B float64 `yaml:"bm25_b" env:"BM25_B"`
	// 短语命中分数乘数
	PhraseBoost float64 `yaml:"phrase_boost" env:"PHRASE_BOOST"`
}

// SearchConfig 查询管线配置
type SearchConfig struct {
	// 向量侧融合权重
	Alpha float64 `yaml:"alpha" env:"ALPHA"`
	// 过滤前过量拉取倍数
	OverFetchFactor int `yaml:"over_fetch_factor" env:"OVER_FETCH_FACTOR"`
	// 整体请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 查询嵌入子调用超时
	EmbedTimeout time.Duration `yaml:"embed_timeout" env:"EMBED_TIMEOUT"`
	// 重排序子调用超时
	RerankTimeout time.Duration `yaml:"rerank_timeout" env:"RERANK_TIMEOUT"`
	// 首选许可列表
	PreferredLicenses []string `yaml:"preferred_licenses" env:"PREFERRED_LICENSES"`
	// 首选许可分数乘数（1.0 表示关闭）
	LicenseBoost float64 `yaml:"license_boost" env:"LICENSE_BOOST"`
}

// RerankConfig 重排序配置
type RerankConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 单次评分请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大候选数
	MaxCandidates int `yaml:"max_candidates" env:"MAX_CANDIDATES"`
	// 理由文本最大长度
	RationaleMaxLength int `yaml:"rationale_max_length" env:"RATIONALE_MAX_LENGTH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RETRIEVALFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	// 验证分块配置
	if c.Chunking.Size <= 0 {
		errs = append(errs, "chunking size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, "chunking overlap must be in [0, size)")
	}

	// 验证查询管线配置
	if c.Search.Alpha <= 0 || c.Search.Alpha >= 1 {
		errs = append(errs, "search alpha must be in (0, 1)")
	}
	if c.Search.OverFetchFactor < 1 {
		errs = append(errs, "over_fetch_factor must be at least 1")
	}

	// 验证嵌入配置
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding dimensions must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
