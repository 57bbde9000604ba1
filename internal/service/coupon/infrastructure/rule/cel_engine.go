// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"promo/internal/service/coupon/domain"
)

// CELRuleEngineAdapter 是 domain.RuleEngine 接口的 CEL 实现。
// 策略的适用范围以 CEL 表达式描述，例如:
//
//	"ALL-ITEM-001" in item_ids
//	order_amount >= 10000 && item_ids.exists(i, i.startsWith("book-"))
//
// 编译结果按表达式缓存，同一条策略只编译一次。
type CELRuleEngineAdapter struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

// NewCELRuleEngineAdapter 创建一个新的规则引擎适配器实例。
func NewCELRuleEngineAdapter() (*CELRuleEngineAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("order_amount", cel.IntType),
		cel.Variable("item_ids", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL environment: %w", err)
	}
	return &CELRuleEngineAdapter{env: env}, nil
}

// Evaluate 实现了 domain.RuleEngine 接口。空表达式表示全场通用，直接放行。
func (a *CELRuleEngineAdapter) Evaluate(expression string, fact domain.Fact) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	program, err := a.compile(expression)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]interface{}{
		"user_id":      fact.UserID,
		"order_amount": fact.OrderAmount,
		"item_ids":     fact.ItemIDs,
	})
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean", expression)
	}
	return result, nil
}

func (a *CELRuleEngineAdapter) compile(expression string) (cel.Program, error) {
	if cached, ok := a.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := a.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid rule expression %q: %w", expression, issues.Err())
	}
	program, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule program: %w", err)
	}

	a.programs.Store(expression, program)
	return program, nil
}
