package reporter

import (
	"fmt"
	"math"
	"os"
	"sort"

	"chart-trade-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储根据全局流水计算出的整体表现指标
type Metrics struct {
	TotalTrades   int     // 已平仓的交易次数
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalProfit   float64
	AvgProfitLoss float64 // 平均盈亏比
	MaxDrawdown   float64 // 按累计盈亏曲线计算的最大回撤 (绝对金额)
}

// CalculateMetrics 遍历汇总快照中的全部卖出记录计算指标
func CalculateMetrics(sum *models.Summary) *Metrics {
	m := &Metrics{}

	var totalWin, totalLoss float64
	var equity, peak, maxDD float64

	for _, trade := range sum.AllTrades {
		if trade.Profit == nil {
			continue
		}
		m.TotalTrades++
		p := *trade.Profit
		m.TotalProfit += p
		if p > 0 {
			m.WinningTrades++
			totalWin += p
		} else {
			m.LosingTrades++
			totalLoss += p
		}

		// 用累计盈亏曲线计算最大回撤
		equity += p
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 && m.LosingTrades > 0 {
		avgWin := totalWin / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}
	m.MaxDrawdown = maxDD

	return m
}

// PrintReport 在控制台打印每个bot的统计表格和整体指标
func PrintReport(sum *models.Summary) {
	metrics := CalculateMetrics(sum)

	// 按key排序, 保证输出稳定
	keys := make([]string, 0, len(sum.Bots))
	for k := range sum.Bots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"BOT", "TICKER", "POSITION", "WINS", "LOSSES", "WIN RATE", "PNL"})
	for _, k := range keys {
		b := sum.Bots[k]
		name := b.BotName
		if name == "" {
			name = b.BotID
		}
		t.AppendRow(table.Row{
			name,
			b.Ticker,
			b.Position,
			b.Wins,
			b.Losses,
			fmt.Sprintf("%.2f%%", b.WinRate),
			fmt.Sprintf("%.2f", b.TotalPnL),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "TOTAL", fmt.Sprintf("%.2f", sum.TotalPnLAllTickers)})
	t.Render()

	fmt.Printf("已平仓交易: %d  盈利: %d  亏损: %d  胜率: %.2f%%\n",
		metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades, metrics.WinRate)
	fmt.Printf("总盈亏: %.2f  平均盈亏比: %.2f  最大回撤: %.2f\n",
		metrics.TotalProfit, metrics.AvgProfitLoss, metrics.MaxDrawdown)
}
