package models

import "time"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	ListenAddr  string     `json:"listen_addr"`  // HTTP/WebSocket 服务监听地址, e.g., ":8090"
	JournalPath string     `json:"journal_path"` // BadgerDB 交易流水目录
	RecordsPath string     `json:"records_path"` // SQLite 配对记录数据库文件路径
	LogConfig   LogConfig  `json:"log"`          // 日志配置
	DefaultRule RuleConfig `json:"default_rule"` // 未单独注册规则配置的机器人使用的默认规则
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Signal 代表上游（图表识别/标题解析）每秒推送的一次观测
type Signal struct {
	Trend   string `json:"trend"`    // "up", "down" 或空字符串
	Price   string `json:"price"`    // 原始价格字符串, 可能带 $ 和千分位逗号
	Ticker  string `json:"ticker"`   // 股票/合约代码
	BotID   string `json:"bot_id"`   // 机器人ID, 可选; 为空时按裸 ticker 记账
	BotName string `json:"bot_name"` // 机器人名称, 可选
	Auto    bool   `json:"auto"`     // 是否允许自动开仓
}

// 交易方向
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// 规则平仓原因标签
const (
	WinReasonTakeProfit       = "TAKE_PROFIT_RULE_1"
	WinReasonStopLoss         = "STOP_LOSS_RULE_2"
	WinReasonConsecutiveDrops = "CONSECUTIVE_DROPS_RULE_3"
	WinReasonRule5            = "RULE_5"
	WinReasonRule6            = "RULE_6"
	WinReasonRule7            = "RULE_7"
	WinReasonRule8            = "RULE_8"
	WinReasonRule9            = "RULE_9"
)

// TradeRecord 记录一次买入或卖出事件。记录一旦生成即不可变,
// 只会追加到各自的历史列表和全局流水中。
type TradeRecord struct {
	Ticker    string    `json:"ticker"`
	BotID     string    `json:"bot_id,omitempty"`
	BotName   string    `json:"bot_name,omitempty"`
	Direction string    `json:"direction"` // "buy" 或 "sell"
	Price     float64   `json:"price"`
	Profit    *float64  `json:"profit"` // 仅卖出时有值, = 卖价 - 买入价
	TS        time.Time `json:"ts"`
	TradeID   string    `json:"trade_id"`             // 卖出事件继承配对买入的 trade_id
	WinReason string    `json:"win_reason,omitempty"` // 触发平仓的规则标签, 默认策略平仓时为空
}

// PairedRecord 是 SQLite 中一买一卖配对后的成交记录。
// 买入时插入一行, 配对的卖出通过 trade_id 回填同一行的卖出字段。
type PairedRecord struct {
	ID        int64      `json:"id"`
	TradeID   string     `json:"trade_id"`
	Ticker    string     `json:"ticker"`
	BotID     string     `json:"bot_id,omitempty"`
	BotName   string     `json:"bot_name,omitempty"`
	BuyPrice  float64    `json:"buy_price"`
	BuyTime   time.Time  `json:"buy_time"`
	SellPrice *float64   `json:"sell_price"`
	SellTime  *time.Time `json:"sell_time"`
	WinReason string     `json:"win_reason,omitempty"`
	Profit    *float64   `json:"profit"`
}

// RuleConfig 汇总了一个机器人的全部规则开关与参数。
// 字段命名沿用了历史接口 (rule_7_up_minutes 实际按秒计算,
// rule_9_window_minutes 实际是以秒为单位的冷却时长)。
type RuleConfig struct {
	Rule1Enabled     bool    `json:"rule_1_enabled"`
	TakeProfitAmount float64 `json:"take_profit_amount"`

	Rule2Enabled   bool    `json:"rule_2_enabled"`
	StopLossAmount float64 `json:"stop_loss_amount"`

	Rule3Enabled   bool `json:"rule_3_enabled"`
	Rule3DropCount int  `json:"rule_3_drop_count"`

	Rule4Enabled bool   `json:"rule_4_enabled"`
	TradingStart string `json:"trading_start,omitempty"` // "HH:MM", 为空时使用交易所默认时段
	TradingEnd   string `json:"trading_end,omitempty"`   // "HH:MM"
	TradingDays  []int  `json:"trading_days,omitempty"`  // 0=周一 ... 6=周日

	Rule5Enabled        bool    `json:"rule_5_enabled"`
	Rule5DownMinutes    int     `json:"rule_5_down_minutes"`
	Rule5ReversalAmount float64 `json:"rule_5_reversal_amount"`
	Rule5ScalpAmount    float64 `json:"rule_5_scalp_amount"`

	Rule6Enabled      bool    `json:"rule_6_enabled"`
	Rule6DownMinutes  int     `json:"rule_6_down_minutes"`
	Rule6ProfitAmount float64 `json:"rule_6_profit_amount"`

	Rule7Enabled   bool `json:"rule_7_enabled"`
	Rule7UpMinutes int  `json:"rule_7_up_minutes"` // 历史名称, 语义为秒

	Rule8Enabled    bool    `json:"rule_8_enabled"`
	Rule8BuyOffset  float64 `json:"rule_8_buy_offset"`
	Rule8SellOffset float64 `json:"rule_8_sell_offset"`

	Rule9Enabled       bool    `json:"rule_9_enabled"`
	Rule9Amount        float64 `json:"rule_9_amount"`         // 历史参数, 当前实现不使用
	Rule9Flips         int     `json:"rule_9_flips"`          // 历史参数, 当前实现不使用
	Rule9WindowMinutes int     `json:"rule_9_window_minutes"` // 历史名称, 语义为冷却秒数

	DefaultTradeEnabled bool `json:"default_trade_enabled"`
}

// BotSummary 是单个 (bot, ticker) 的统计快照
type BotSummary struct {
	BotID          string        `json:"bot_id"`
	BotName        string        `json:"bot_name,omitempty"`
	Ticker         string        `json:"ticker"`
	Position       string        `json:"position"` // "long" 或 "flat"
	EntryPrice     *float64      `json:"entry_price"`
	FirstCycleDone bool          `json:"first_cycle_done"`
	LastDirection  string        `json:"last_direction,omitempty"`
	LastTrade      *TradeRecord  `json:"last_trade"`
	TotalPnL       float64       `json:"total_pnl"`
	Wins           int           `json:"wins"`
	Losses         int           `json:"losses"`
	WinRate        float64       `json:"win_rate"`
	TradeHistory   []TradeRecord `json:"trade_history"`
}

// Summary 是整个引擎的只读快照, 可直接序列化返回给客户端。
// Tickers 只包含无 bot_id 的键 (兼容旧的按 ticker 视图), Bots 包含全部键。
type Summary struct {
	Tickers            map[string]*BotSummary `json:"tickers"`
	Bots               map[string]*BotSummary `json:"bots"`
	TotalPnLAllTickers float64                `json:"total_pnl_all_tickers"`
	AllTrades          []TradeRecord          `json:"all_trades"`
}
