package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chart-trade-bot-go/internal/config"
	"chart-trade-bot-go/internal/engine"
	"chart-trade-bot-go/internal/logger"
	"chart-trade-bot-go/internal/models"
	"chart-trade-bot-go/internal/persistence"
	"chart-trade-bot-go/internal/replay"
	"chart-trade-bot-go/internal/reporter"
	"chart-trade-bot-go/internal/server"
	"chart-trade-bot-go/internal/statemanager"
	"chart-trade-bot-go/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "serve", "running mode: serve or replay")
	dataPath := flag.String("data", "", "path to recorded signal file for replay mode")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 在加载.env和配置文件阶段就需要日志, 先用默认配置初始化一次
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// 环境变量优先于配置文件
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}

	switch *mode {
	case "serve":
		runServeMode(cfg)
	case "replay":
		runReplayMode(cfg, *dataPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'serve' 或 'replay'。", *mode)
	}
}

// runServeMode 启动 HTTP/WebSocket 服务, 接收实时信号
func runServeMode(cfg *models.Config) {
	logger.S().Info("--- 启动信号服务模式 ---")

	// --- 初始化交易流水日志 (BadgerDB) ---
	var journal persistence.TradeJournal
	if cfg.JournalPath != "" {
		var err error
		journal, err = persistence.NewBadgerJournal(cfg.JournalPath)
		if err != nil {
			logger.S().Fatalf("无法打开交易流水库: %v", err)
		}
		defer journal.Close()

		if past, err := journal.LoadAll(); err != nil {
			logger.S().Warnf("读取历史流水失败: %v", err)
		} else {
			logger.S().Infof("流水库中已有 %d 条历史交易事件。", len(past))
		}
	}

	// --- 初始化配对记录库 (SQLite) ---
	var db *sql.DB
	if cfg.RecordsPath != "" {
		var err error
		db, err = storage.InitDB(cfg.RecordsPath)
		if err != nil {
			logger.S().Fatalf("无法初始化记录数据库: %v", err)
		}
		defer db.Close()
	}

	// 每笔成交同时写流水和配对记录, 失败只记日志不影响内存状态
	onTrade := func(rec models.TradeRecord) error {
		if journal != nil {
			if err := journal.Append(rec); err != nil {
				return err
			}
		}
		if db != nil {
			if err := storage.RecordTrade(db, rec); err != nil {
				return err
			}
		}
		return nil
	}

	eng := engine.New(statemanager.NewManager(logger.S()), onTrade, logger.S())
	srv := server.New(cfg.ListenAddr, eng, db, cfg.DefaultRule, logger.S())

	go func() {
		if err := srv.Start(); err != nil {
			logger.S().Fatalf("HTTP 服务异常退出: %v", err)
		}
	}()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.S().Info("收到退出信号, 正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.S().Warnf("关闭 HTTP 服务失败: %v", err)
	}

	// 退出前打印一份最终统计
	reporter.PrintReport(eng.GenerateSummary())
	logger.S().Info("服务已成功停止。")
}

// runReplayMode 用录制的信号文件离线重放整个决策流程
func runReplayMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- 启动信号回放模式 ---")
	if dataPath == "" {
		logger.S().Fatal("回放模式需要通过 --data 参数指定信号文件。")
	}

	eng := engine.New(statemanager.NewManager(logger.S()), nil, logger.S())

	sum, err := replay.Run(dataPath, eng, cfg.DefaultRule, logger.S())
	if err != nil {
		logger.S().Fatalf("回放失败: %v", err)
	}

	logger.S().Info("回放结束。")
	reporter.PrintReport(sum)
}
