// internal/service/coupon/infrastructure/rule/cel_engine_test.go
package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promo/internal/service/coupon/domain"
)

func TestEvaluate(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	fact := domain.Fact{
		UserID:      "user-1",
		OrderAmount: 15000,
		ItemIDs:     []string{"book-101", "toy-7"},
	}

	t.Run("empty expression matches everything", func(t *testing.T) {
		ok, err := engine.Evaluate("", fact)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = engine.Evaluate("   ", fact)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("item membership", func(t *testing.T) {
		ok, err := engine.Evaluate(`"book-101" in item_ids`, fact)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = engine.Evaluate(`"food-1" in item_ids`, fact)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("amount threshold with prefix match", func(t *testing.T) {
		ok, err := engine.Evaluate(`order_amount >= 10000 && item_ids.exists(i, i.startsWith("book-"))`, fact)
		require.NoError(t, err)
		assert.True(t, ok)

		low := fact
		low.OrderAmount = 500
		ok, err = engine.Evaluate(`order_amount >= 10000 && item_ids.exists(i, i.startsWith("book-"))`, low)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid expression is an error", func(t *testing.T) {
		_, err := engine.Evaluate(`order_amount >>> 10`, fact)
		assert.Error(t, err)
	})

	t.Run("non-boolean expression is an error", func(t *testing.T) {
		_, err := engine.Evaluate(`order_amount + 1`, fact)
		assert.Error(t, err)
	})

	t.Run("unknown variable is an error", func(t *testing.T) {
		_, err := engine.Evaluate(`vip_level > 3`, fact)
		assert.Error(t, err)
	})
}
