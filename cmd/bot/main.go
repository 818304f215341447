package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/exchange"
	"github.com/futbot/gofut/internal/executor"
	"github.com/futbot/gofut/internal/indicator"
	"github.com/futbot/gofut/internal/journal"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/risk"
	"github.com/futbot/gofut/internal/scheduler"
	"github.com/futbot/gofut/pkg/config"
	"github.com/futbot/gofut/pkg/logger"
	"github.com/futbot/gofut/pkg/ratelimit"
	"github.com/futbot/gofut/pkg/secretstore"
	"github.com/futbot/gofut/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	dryRun := flag.Bool("dry-run", false, "纸交易模式：不真实下单（覆盖配置）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogBackups,
		MaxAge:     cfg.LogMaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("配置非法: %v", err)
	}

	// 凭据优先级：配置/环境变量 > secret store
	if cfg.APIKey == "" || cfg.APISecret == "" {
		loadCredentialsFromStore(cfg)
	}
	if !cfg.DryRun && (cfg.APIKey == "" || cfg.APISecret == "") {
		logrus.Fatal("缺少 API 凭据（BINANCE_API_KEY / BINANCE_API_SECRET 或 secret store）")
	}

	logrus.Infof("启动: symbols=%v timeframe=%s cycle=%s testnet=%v dry_run=%v",
		cfg.Symbols, cfg.Timeframe, cfg.CycleInterval, cfg.Testnet, cfg.DryRun)

	fillPolicy := indicator.ParseFillPolicy(cfg.FillPolicy)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := shutdown.NewManager()

	// Binance 权重限制较宽松，这里按保守值限流
	limiter := ratelimit.NewTokenBucket(10, 5)
	gateway := exchange.NewClient(exchange.Options{
		APIKey:        cfg.APIKey,
		APISecret:     cfg.APISecret,
		Testnet:       cfg.Testnet,
		DryRun:        cfg.DryRun,
		QuantitySteps: cfg.QuantitySteps,
		PriceTicks:    cfg.PriceTicks,
		Limiter:       limiter,
	})

	var prices executor.PriceSource
	if cfg.StreamEnabled {
		stream := exchange.NewKlineStream(cfg.Symbols, cfg.Timeframe, cfg.Testnet)
		stream.Start()
		sm.OnShutdown(func(ctx context.Context) { stream.Stop() })
		prices = stream
	}

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			logrus.Fatalf("打开交易日志失败: %v", err)
		}
		sm.OnShutdown(func(ctx context.Context) { _ = jnl.Close() })
	}

	if cfg.MetricsListen != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.MetricsListen); err != nil {
			logrus.Warnf("metrics 服务启动失败: %v", err)
		} else {
			logrus.Infof("metrics 服务监听 %s", cfg.MetricsListen)
		}
	}

	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})

	var recorder executor.Recorder
	if jnl != nil {
		recorder = jnl
	}
	exec, err := executor.New(executor.Options{
		Gateway:        gateway,
		Risk:           cfg.Risk,
		Interval:       cfg.Timeframe,
		Breaker:        breaker,
		Journal:        recorder,
		Prices:         prices,
		PriceStaleness: cfg.StreamStaleness,
	})
	if err != nil {
		logrus.Fatalf("创建执行器失败: %v", err)
	}

	sched := scheduler.New(scheduler.Options{
		Market:        gateway,
		Trader:        exec,
		Symbols:       cfg.Symbols,
		Interval:      cfg.Timeframe,
		CandleLimit:   cfg.CandleLimit,
		FillPolicy:    fillPolicy,
		CycleInterval: cfg.CycleInterval,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(rootCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logrus.Info("收到退出信号，开始优雅关闭")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	logrus.Info("已退出")
}

// loadCredentialsFromStore 从 badger secret store 补齐凭据，失败只告警。
func loadCredentialsFromStore(cfg *config.Config) {
	if cfg.SecretStorePath == "" {
		return
	}
	var key []byte
	if cfg.SecretStoreKey != "" {
		k, err := secretstore.ParseKey(cfg.SecretStoreKey)
		if err != nil {
			logrus.Warnf("secret store key 非法: %v", err)
			return
		}
		key = k
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStorePath,
		EncryptionKey: key,
		ReadOnly:      true,
	})
	if err != nil {
		logrus.Warnf("打开 secret store 失败: %v", err)
		return
	}
	defer store.Close()

	if cfg.APIKey == "" {
		if v, ok, err := store.GetString(secretstore.KeyAPIKey); err == nil && ok {
			cfg.APIKey = v
		}
	}
	if cfg.APISecret == "" {
		if v, ok, err := store.GetString(secretstore.KeyAPISecret); err == nil && ok {
			cfg.APISecret = v
		}
	}
}
