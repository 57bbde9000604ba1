// internal/service/coupon/domain/rule.go
package domain

// Fact 是适用范围规则评估时的输入事实。
type Fact struct {
	UserID      string   `json:"user_id"`
	OrderAmount int64    `json:"order_amount"`
	ItemIDs     []string `json:"item_ids"`
}

// RuleEngine 评估策略的适用范围表达式。
// 空表达式视为全场通用，由实现直接放行。
type RuleEngine interface {
	Evaluate(expression string, fact Fact) (bool, error)
}
