package models

import "time"

// Position 代表一个 (bot, ticker) 键上的未平仓多头持仓。
// 持仓由买入创建, 由配对的卖出销毁; 同一键同一时刻至多一个持仓。
type Position struct {
	Entry   float64   `json:"entry"`    // 买入价
	Ticker  string    `json:"ticker"`   // 冗余存一份, 方便日志与持久化
	TS      time.Time `json:"ts"`       // 买入时间
	TradeID string    `json:"trade_id"` // 买入时生成, 卖出事件继承此ID实现配对
}

// Rule3State 是规则#3 (连续下跌卖出) 的计数状态
type Rule3State struct {
	LastPrice   float64 `json:"last_price"`
	PeakPrice   float64 `json:"peak_price"`
	DropCount   int     `json:"drop_count"`
	Initialized bool    `json:"initialized"` // last_price 是否已有基准值
}

// Rule5State 是规则#5 (下跌反转+剥头皮) 的三阶段状态
type Rule5State struct {
	DownStart        time.Time `json:"down_start"` // 零值表示未开始计时
	ReadyForReversal bool      `json:"ready_for_reversal"`
	ReversalActive   bool      `json:"reversal_active"`
	ReversalPrice    float64   `json:"reversal_price"`
	ScalpActive      bool      `json:"scalp_active"`
}

// Rule6State 是规则#6 (长等待买入+目标止盈) 的状态
type Rule6State struct {
	DownStart   time.Time `json:"down_start"`
	ReadyForBuy bool      `json:"ready_for_buy"`
	Active      bool      `json:"active"`
}

// Rule7State 是规则#7 (持续上涨动量买入) 的状态。
// 计时要求连续的 up 信号, 任何 down 信号都会清零重来。
type Rule7State struct {
	UpStart     time.Time `json:"up_start"`
	Active      bool      `json:"active"`
	ReadyForBuy bool      `json:"ready_for_buy"`
}

// Rule8State 是规则#8 (回落买入/目标卖出) 的状态
type Rule8State struct {
	WatchPrice float64 `json:"watch_price"` // 空仓期间观察到的滚动最高价
	Watching   bool    `json:"watching"`    // watch_price 是否有效
}

// Rule9State 是规则#9 (卖出后冷却) 的状态
type Rule9State struct {
	LastSellTime time.Time `json:"last_sell_time"` // 任意一次卖出都会刷新, 零值表示从未卖出
}

// TickerState 持有一个 (bot, ticker) 键的全部可变状态。
// 所有字段只允许由唯一的信号分发协程修改 (single-writer),
// 引擎内部不加锁, 这是一个必须由调用方保证的硬性前提。
type TickerState struct {
	Ticker  string `json:"ticker"`
	BotID   string `json:"bot_id,omitempty"`
	BotName string `json:"bot_name,omitempty"`

	Position *Position `json:"position"` // nil 表示空仓

	// 首轮引导: 第一个信号是 down 时先买入等待第二个 down
	FirstCycleDone       bool `json:"first_cycle_done"`
	WaitingForSecondDown bool `json:"waiting_for_second_down"`

	LastDirection string        `json:"last_direction,omitempty"` // 最近一次执行的方向
	TradeHistory  []TradeRecord `json:"trade_history"`            // 本键的交易历史, 只追加

	Rule3 Rule3State `json:"rule_3"`
	Rule5 Rule5State `json:"rule_5"`
	Rule6 Rule6State `json:"rule_6"`
	Rule7 Rule7State `json:"rule_7"`
	Rule8 Rule8State `json:"rule_8"`
	Rule9 Rule9State `json:"rule_9"`
}

// NewTickerState 创建一个空仓的初始状态
func NewTickerState(ticker, botID, botName string) *TickerState {
	return &TickerState{
		Ticker:       ticker,
		BotID:        botID,
		BotName:      botName,
		TradeHistory: make([]TradeRecord, 0),
	}
}

// Long 报告当前是否持仓
func (s *TickerState) Long() bool {
	return s.Position != nil
}
