package analysis

import (
	"fmt"

	"sentitrade/market"
)

// Action 操作建议类型
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Advice 一条口诀规则建议
type Advice struct {
	Action Action `json:"action"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// GenerateRuleAdvice 根据口诀规则生成买卖建议列表
//
// 口诀：
//
//	RSI6 破 30，MACD 金叉 → 短线买
//	RSI6 破 70，MACD 死叉 → 短线卖
//	0 轴上金叉大胆做，0 轴下金叉少碰
//	震荡不上 70、不下 30 → 不操作
//
// 返回所有命中的规则，调用方通过 PrimaryAdvice 取主建议
func GenerateRuleAdvice(rsi6 float64, hasRSI6 bool, macdCross string, macdAboveZero bool) []Advice {
	if !hasRSI6 {
		return []Advice{{
			Action: ActionHold,
			Rule:   "数据不足",
			Detail: "RSI6 数据不足，无法判断",
		}}
	}

	var list []Advice

	// 规则 1: RSI6 破 30 + MACD 金叉 → 短线买
	if rsi6 <= 30 && macdCross == market.CrossGolden {
		confidence := "中"
		if macdAboveZero {
			confidence = "高"
		}
		list = append(list, Advice{
			Action: ActionBuy,
			Rule:   "RSI6 破 30 + MACD 金叉 → 短线买",
			Detail: fmt.Sprintf("RSI6=%.1f 进入超卖区，MACD 出现金叉，短线买入信号（置信度: %s）", rsi6, confidence),
		})
	}

	// 规则 2: RSI6 破 70 + MACD 死叉 → 短线卖
	if rsi6 >= 70 && macdCross == market.CrossDeath {
		list = append(list, Advice{
			Action: ActionSell,
			Rule:   "RSI6 破 70 + MACD 死叉 → 短线卖",
			Detail: fmt.Sprintf("RSI6=%.1f 进入超买区，MACD 出现死叉，短线卖出信号", rsi6),
		})
	}

	// 规则 3: 0 轴上金叉大胆做 / 0 轴下金叉少碰
	// 与规则 1 可同时命中，全部返回，主建议由 PrimaryAdvice 决定
	if macdCross == market.CrossGolden {
		if macdAboveZero {
			list = append(list, Advice{
				Action: ActionBuy,
				Rule:   "0 轴上金叉 → 大胆做",
				Detail: fmt.Sprintf("MACD 在 0 轴上方出现金叉，趋势向好，可积极操作（RSI6=%.1f）", rsi6),
			})
		} else {
			list = append(list, Advice{
				Action: ActionBuy,
				Rule:   "0 轴下金叉 → 少碰",
				Detail: fmt.Sprintf("MACD 在 0 轴下方出现金叉，反弹力度不确定，轻仓试探（RSI6=%.1f）", rsi6),
			})
		}
	}

	// 规则 4: 仅 RSI6 超买/超卖但无交叉确认
	if rsi6 <= 30 && macdCross != market.CrossGolden && !containsAction(list, ActionBuy) {
		list = append(list, Advice{
			Action: ActionHold,
			Rule:   "RSI6 超卖但无金叉确认",
			Detail: fmt.Sprintf("RSI6=%.1f 处于超卖区，但 MACD 尚未金叉，等待确认信号", rsi6),
		})
	}
	if rsi6 >= 70 && macdCross != market.CrossDeath && !containsAction(list, ActionSell) {
		list = append(list, Advice{
			Action: ActionHold,
			Rule:   "RSI6 超买但无死叉确认",
			Detail: fmt.Sprintf("RSI6=%.1f 处于超买区，但 MACD 尚未死叉，注意风险", rsi6),
		})
	}

	// 规则 5: 震荡区间 → 不操作
	if rsi6 > 30 && rsi6 < 70 && macdCross == market.CrossNone {
		list = append(list, Advice{
			Action: ActionHold,
			Rule:   "震荡区间 → 不操作",
			Detail: fmt.Sprintf("RSI6=%.1f 处于 30-70 震荡区间，无明确交叉信号，建议观望", rsi6),
		})
	}

	// 兜底
	if len(list) == 0 {
		list = append(list, Advice{
			Action: ActionHold,
			Rule:   "无明确信号",
			Detail: fmt.Sprintf("RSI6=%.1f，MACD %s，暂无明确操作建议", rsi6, crossCN(macdCross)),
		})
	}

	return list
}

// PrimaryAdvice 取主建议：第一条 BUY/SELL，否则第一条
func PrimaryAdvice(list []Advice) Advice {
	if len(list) == 0 {
		return Advice{Action: ActionHold, Rule: "无明确信号"}
	}
	for _, a := range list {
		if a.Action == ActionBuy || a.Action == ActionSell {
			return a
		}
	}
	return list[0]
}

func containsAction(list []Advice, action Action) bool {
	for _, a := range list {
		if a.Action == action {
			return true
		}
	}
	return false
}

func crossCN(cross string) string {
	switch cross {
	case market.CrossGolden:
		return "金叉"
	case market.CrossDeath:
		return "死叉"
	default:
		return "无交叉"
	}
}
