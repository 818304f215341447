package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/futbot/gofut/internal/domain"
)

// Config 应用配置（优先级：配置文件 > 环境变量 > 默认值）。
type Config struct {
	// 凭据。为空时 main 会尝试从 secret store 读取。
	APIKey    string
	APISecret string

	Testnet bool // 沙盒模式（Binance futures testnet）
	DryRun  bool // 纸交易模式：不真实下单，只在日志中打印订单

	Symbols     []string // 交易对列表，固定于启动时
	Timeframe   string   // K 线周期，例如 "5m"
	CandleLimit int      // 每次拉取的 K 线数量

	Risk domain.RiskParams

	// MaxConsecutiveFailures 连续执行失败熔断阈值（0=关闭）。
	MaxConsecutiveFailures int64

	CycleInterval time.Duration // 调度循环周期

	// FillPolicy 历史不足指标的归一化策略："zero"（默认）或 "neutral"。
	FillPolicy string

	// StreamEnabled 启用 WebSocket 实时 K 线缓存；StreamStaleness 为
	// 执行时允许使用流内最新价的最大陈旧度。
	StreamEnabled   bool
	StreamStaleness time.Duration

	JournalPath   string // sqlite 交易日志路径（空=关闭）
	MetricsListen string // expvar/pprof 监听地址（空=关闭）

	// QuantitySteps 各交易对的数量步长（下单数量向下取整到步长）。
	QuantitySteps map[string]float64
	// PriceTicks 各交易对的价格步长（括号腿价格向下取整到步长）。
	PriceTicks map[string]float64

	SecretStorePath string // badger secret store 路径（可选）
	SecretStoreKey  string // 32 字节加密 key（hex/base64，可选）

	LogLevel   string
	LogFile    string
	LogMaxSize int
	LogBackups int
	LogMaxAge  int
}

// ConfigFile 配置文件结构（YAML/JSON）。
type ConfigFile struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	APISecret string `yaml:"api_secret" json:"api_secret"`

	Testnet *bool `yaml:"testnet" json:"testnet"`
	DryRun  *bool `yaml:"dry_run" json:"dry_run"`

	Symbols     []string `yaml:"symbols" json:"symbols"`
	Timeframe   string   `yaml:"timeframe" json:"timeframe"`
	CandleLimit int      `yaml:"candle_limit" json:"candle_limit"`

	Risk struct {
		BalanceFraction    float64  `yaml:"balance_fraction" json:"balance_fraction"`
		StopLossFraction   float64  `yaml:"stop_loss_fraction" json:"stop_loss_fraction"`
		TakeProfitFraction float64  `yaml:"take_profit_fraction" json:"take_profit_fraction"`
		BalanceCeiling     float64  `yaml:"balance_ceiling" json:"balance_ceiling"`
		// 指针区分"未配置"与显式 0（冷却允许为 0）。
		Cooldown *Duration `yaml:"cooldown" json:"cooldown"`

		MaxConsecutiveFailures int64 `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	} `yaml:"risk" json:"risk"`

	CycleInterval Duration `yaml:"cycle_interval" json:"cycle_interval"`
	FillPolicy    string   `yaml:"fill_policy" json:"fill_policy"`

	Stream struct {
		Enabled   *bool    `yaml:"enabled" json:"enabled"`
		Staleness Duration `yaml:"staleness" json:"staleness"`
	} `yaml:"stream" json:"stream"`

	JournalPath   string `yaml:"journal_path" json:"journal_path"`
	MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`

	QuantitySteps map[string]float64 `yaml:"quantity_steps" json:"quantity_steps"`
	PriceTicks    map[string]float64 `yaml:"price_ticks" json:"price_ticks"`

	SecretStore struct {
		Path string `yaml:"path" json:"path"`
		Key  string `yaml:"key" json:"key"`
	} `yaml:"secret_store" json:"secret_store"`

	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
	} `yaml:"log" json:"log"`
}

// Load 从文件加载配置（支持 .yaml/.yml/.json），filePath 为空时只用环境变量与默认值。
// 启动时会先加载 .env（若存在），让凭据走环境变量而不进配置文件。
func Load(filePath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	var cf *ConfigFile
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg := &Config{
		APIKey:    pickString(fileString(cf, func(c *ConfigFile) string { return c.APIKey }), getEnv("BINANCE_API_KEY", "")),
		APISecret: pickString(fileString(cf, func(c *ConfigFile) string { return c.APISecret }), getEnv("BINANCE_API_SECRET", "")),

		Testnet: pickBool(fileBool(cf, func(c *ConfigFile) *bool { return c.Testnet }), parseBoolEnv("TESTNET", true)),
		DryRun:  pickBool(fileBool(cf, func(c *ConfigFile) *bool { return c.DryRun }), parseBoolEnv("DRY_RUN", false)),

		Timeframe:   pickString(fileString(cf, func(c *ConfigFile) string { return c.Timeframe }), getEnv("TIMEFRAME", "5m")),
		CandleLimit: pickInt(fileInt(cf, func(c *ConfigFile) int { return c.CandleLimit }), parseIntEnv("CANDLE_LIMIT", 100)),

		FillPolicy: pickString(fileString(cf, func(c *ConfigFile) string { return c.FillPolicy }), getEnv("FILL_POLICY", "zero")),

		JournalPath:   pickString(fileString(cf, func(c *ConfigFile) string { return c.JournalPath }), getEnv("JOURNAL_PATH", "data/trades.db")),
		MetricsListen: pickString(fileString(cf, func(c *ConfigFile) string { return c.MetricsListen }), getEnv("METRICS_LISTEN", "")),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFile:    getEnv("LOG_FILE", "logs/bot.log"),
		LogMaxSize: 50,
		LogBackups: 5,
		LogMaxAge:  14,
	}

	// 交易对列表
	if cf != nil && len(cf.Symbols) > 0 {
		cfg.Symbols = cf.Symbols
	} else {
		cfg.Symbols = parseSymbolList(getEnv("SYMBOLS", "1000PEPEUSDT,XRPUSDT,ETHUSDT"))
	}

	// 风险参数
	cfg.Risk = domain.RiskParams{
		BalanceFraction:    0.1,
		StopLossFraction:   0.01,
		TakeProfitFraction: 0.03,
		BalanceCeiling:     100,
		Cooldown:           5 * time.Minute,
	}
	if cf != nil {
		if cf.Risk.BalanceFraction > 0 {
			cfg.Risk.BalanceFraction = cf.Risk.BalanceFraction
		}
		if cf.Risk.StopLossFraction > 0 {
			cfg.Risk.StopLossFraction = cf.Risk.StopLossFraction
		}
		if cf.Risk.TakeProfitFraction > 0 {
			cfg.Risk.TakeProfitFraction = cf.Risk.TakeProfitFraction
		}
		if cf.Risk.BalanceCeiling > 0 {
			cfg.Risk.BalanceCeiling = cf.Risk.BalanceCeiling
		}
		if cf.Risk.Cooldown != nil {
			cfg.Risk.Cooldown = cf.Risk.Cooldown.Duration
		}
		cfg.MaxConsecutiveFailures = cf.Risk.MaxConsecutiveFailures
	} else {
		cfg.Risk.BalanceFraction = parseFloatEnv("BALANCE_FRACTION", cfg.Risk.BalanceFraction)
		cfg.Risk.StopLossFraction = parseFloatEnv("STOP_LOSS_FRACTION", cfg.Risk.StopLossFraction)
		cfg.Risk.TakeProfitFraction = parseFloatEnv("TAKE_PROFIT_FRACTION", cfg.Risk.TakeProfitFraction)
		cfg.Risk.BalanceCeiling = parseFloatEnv("BALANCE_CEILING", cfg.Risk.BalanceCeiling)
		cfg.Risk.Cooldown = time.Duration(parseIntEnv("COOLDOWN_SECONDS", 300)) * time.Second
	}

	// 调度周期
	cfg.CycleInterval = 300 * time.Second
	if cf != nil && cf.CycleInterval.Duration > 0 {
		cfg.CycleInterval = cf.CycleInterval.Duration
	} else if v := parseIntEnv("CYCLE_INTERVAL_SECONDS", 0); v > 0 {
		cfg.CycleInterval = time.Duration(v) * time.Second
	}

	// 实时流
	cfg.StreamEnabled = false
	cfg.StreamStaleness = 10 * time.Second
	if cf != nil {
		if cf.Stream.Enabled != nil {
			cfg.StreamEnabled = *cf.Stream.Enabled
		}
		if cf.Stream.Staleness.Duration > 0 {
			cfg.StreamStaleness = cf.Stream.Staleness.Duration
		}
	} else {
		cfg.StreamEnabled = parseBoolEnv("STREAM_ENABLED", false)
	}

	if cf != nil {
		cfg.QuantitySteps = cf.QuantitySteps
		cfg.PriceTicks = cf.PriceTicks
		cfg.SecretStorePath = cf.SecretStore.Path
		cfg.SecretStoreKey = cf.SecretStore.Key
		if cf.Log.Level != "" {
			cfg.LogLevel = cf.Log.Level
		}
		if cf.Log.File != "" {
			cfg.LogFile = cf.Log.File
		}
		if cf.Log.MaxSize > 0 {
			cfg.LogMaxSize = cf.Log.MaxSize
		}
		if cf.Log.MaxBackups > 0 {
			cfg.LogBackups = cf.Log.MaxBackups
		}
		if cf.Log.MaxAge > 0 {
			cfg.LogMaxAge = cf.Log.MaxAge
		}
	}
	if cfg.SecretStorePath == "" {
		cfg.SecretStorePath = getEnv("SECRET_STORE_PATH", "")
	}
	if cfg.SecretStoreKey == "" {
		cfg.SecretStoreKey = getEnv("SECRET_STORE_KEY", "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Validate 验证配置不变量。
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols 不能为空")
	}
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("symbols 中存在空交易对")
		}
	}
	if c.Timeframe == "" {
		return fmt.Errorf("timeframe 不能为空")
	}
	if c.CandleLimit <= 0 {
		return fmt.Errorf("candle_limit 必须大于 0")
	}
	if c.Risk.BalanceFraction <= 0 || c.Risk.BalanceFraction >= 1 {
		return fmt.Errorf("balance_fraction 必须在 (0,1) 区间")
	}
	if c.Risk.StopLossFraction <= 0 || c.Risk.StopLossFraction >= 1 {
		return fmt.Errorf("stop_loss_fraction 必须在 (0,1) 区间")
	}
	if c.Risk.TakeProfitFraction <= 0 || c.Risk.TakeProfitFraction >= 1 {
		return fmt.Errorf("take_profit_fraction 必须在 (0,1) 区间")
	}
	if c.Risk.BalanceCeiling <= 0 {
		return fmt.Errorf("balance_ceiling 必须大于 0")
	}
	if c.Risk.Cooldown < 0 {
		return fmt.Errorf("cooldown 不能为负数")
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval 必须大于 0")
	}
	return nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &cf, nil
}

func parseSymbolList(str string) []string {
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func fileString(cf *ConfigFile, getter func(*ConfigFile) string) string {
	if cf == nil {
		return ""
	}
	return getter(cf)
}

func fileInt(cf *ConfigFile, getter func(*ConfigFile) int) int {
	if cf == nil {
		return 0
	}
	return getter(cf)
}

func fileBool(cf *ConfigFile, getter func(*ConfigFile) *bool) *bool {
	if cf == nil {
		return nil
	}
	return getter(cf)
}

func pickString(fileValue, fallback string) string {
	if fileValue != "" {
		return fileValue
	}
	return fallback
}

func pickInt(fileValue, fallback int) int {
	if fileValue > 0 {
		return fileValue
	}
	return fallback
}

func pickBool(fileValue *bool, fallback bool) bool {
	if fileValue != nil {
		return *fileValue
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
