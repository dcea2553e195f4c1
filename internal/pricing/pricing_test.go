package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/config"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalculator() *Calculator {
	return NewCalculator(config.NewStaticSettings(config.DefaultSettings()))
}

func plan(t *testing.T, callPct, messagePct string) *plandomain.Plan {
	t.Helper()
	p, err := plandomain.NewPlan(1, "Test", decimal.Zero,
		decimal.RequireFromString(callPct), decimal.RequireFromString(messagePct), nil, time.Now())
	require.NoError(t, err)
	return &p
}

func TestCallCost(t *testing.T) {
	c := newCalculator()

	cost := c.CallCost(120, plan(t, "30", "25"))
	assert.Equal(t, "2.0000", cost.DurationMinutes.StringFixed(4))
	assert.Equal(t, "0.0600", cost.BaseCost.StringFixed(4))
	assert.Equal(t, "0.0180", cost.Markup.StringFixed(4))
	assert.Equal(t, "0.0780", cost.TotalCost.StringFixed(4))

	noPlan := c.CallCost(60, nil)
	assert.Equal(t, "0.0300", noPlan.BaseCost.StringFixed(4))
	assert.Equal(t, "0.0105", noPlan.Markup.StringFixed(4))
	assert.Equal(t, "0.0405", noPlan.TotalCost.StringFixed(4))

	zero := c.CallCost(-5, nil)
	assert.True(t, zero.TotalCost.IsZero())
}

func TestCallCostRoundsHalfToEven(t *testing.T) {
	settings := config.DefaultSettings()
	settings.CallRatePerMinute = 0.0001
	c := NewCalculator(config.NewStaticSettings(settings))

	// 150s -> 2.5 minutes -> 0.00025 base, which rounds to even at 4dp.
	cost := c.CallCost(150, plan(t, "0", "0"))
	assert.Equal(t, "0.0002", cost.BaseCost.StringFixed(4))
}

func TestMessagePricing(t *testing.T) {
	c := newCalculator()

	assert.Equal(t, "0.0050", c.MessageCost(MessageTemplate, "welcome").StringFixed(4))
	assert.True(t, c.MessageCost(MessageText, "").IsZero())
	assert.True(t, c.MessageCost(MessageMedia, "").IsZero())

	b := c.MessageBreakdown(MessageTemplate, "welcome", plan(t, "30", "20"))
	assert.Equal(t, "0.0010", b.Markup.StringFixed(4))
	assert.Equal(t, "0.0060", b.TotalCost.StringFixed(4))

	// default message markup 30% of 0.005 = 0.0015
	assert.Equal(t, "0.0015", c.MessageMarkup(decimal.RequireFromString("0.005"), nil).StringFixed(4))
}

type fixedPricer struct{ cost decimal.Decimal }

func (p fixedPricer) MessageCost(MessageKind, string) decimal.Decimal { return p.cost }

func TestCustomMessagePricer(t *testing.T) {
	c := newCalculator().WithMessagePricer(fixedPricer{cost: decimal.RequireFromString("0.012345")})
	assert.Equal(t, "0.0123", c.MessageCost(MessageText, "").StringFixed(4))
}
