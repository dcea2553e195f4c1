// Package pricing turns metered calls and messages into costs.
//
// Every amount leaving this package is rounded to four decimal places with
// banker's rounding.
package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/config"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	"go.uber.org/fx"
)

const Scale int32 = 4

var (
	secondsPerMinute = decimal.NewFromInt(60)
	hundred          = decimal.NewFromInt(100)
)

// Round applies the money rounding used across the service.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Scale)
}

type CostBreakdown struct {
	DurationMinutes decimal.Decimal `json:"duration_minutes,omitempty"`
	BaseCost        decimal.Decimal `json:"base_cost"`
	Markup          decimal.Decimal `json:"markup"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

type MessageKind string

const (
	MessageTemplate MessageKind = "template"
	MessageText     MessageKind = "text"
	MessageMedia    MessageKind = "media"
)

// MessagePricer prices a single outbound message before markup.
type MessagePricer interface {
	MessageCost(kind MessageKind, templateName string) decimal.Decimal
}

// FlatMessagePricer charges TemplateCost for template messages. Session
// messages are free.
type FlatMessagePricer struct {
	TemplateCost decimal.Decimal
}

func (p FlatMessagePricer) MessageCost(kind MessageKind, _ string) decimal.Decimal {
	if kind == MessageTemplate {
		return Round(p.TemplateCost)
	}
	return decimal.Zero
}

type Rates struct {
	CallPerMinute        decimal.Decimal
	TemplateMessage      decimal.Decimal
	DefaultCallMarkup    decimal.Decimal
	DefaultMessageMarkup decimal.Decimal
}

func RatesFrom(s config.Settings) Rates {
	return Rates{
		CallPerMinute:        decimal.NewFromFloat(s.CallRatePerMinute),
		TemplateMessage:      decimal.NewFromFloat(s.TemplateMessageCost),
		DefaultCallMarkup:    decimal.NewFromFloat(s.DefaultCallMarkup),
		DefaultMessageMarkup: decimal.NewFromFloat(s.DefaultMessageMarkup),
	}
}

// Calculator reads rates from settings on every call so reloads apply
// immediately.
type Calculator struct {
	settings *config.SettingsHolder
	pricer   MessagePricer
}

func NewCalculator(settings *config.SettingsHolder) *Calculator {
	return &Calculator{settings: settings}
}

// WithMessagePricer replaces the flat template pricing.
func (c *Calculator) WithMessagePricer(p MessagePricer) *Calculator {
	return &Calculator{settings: c.settings, pricer: p}
}

func (c *Calculator) rates() Rates {
	return RatesFrom(c.settings.Get())
}

// CallCost prices a call of durationSeconds under plan. A nil plan uses the
// default call markup.
func (c *Calculator) CallCost(durationSeconds int64, plan *plandomain.Plan) CostBreakdown {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	rates := c.rates()
	minutes := decimal.NewFromInt(durationSeconds).Div(secondsPerMinute)
	base := minutes.Mul(rates.CallPerMinute)

	rate := rates.DefaultCallMarkup
	if plan != nil {
		rate = plan.CallMarkupPercentage.Div(hundred)
	}
	markup := base.Mul(rate)

	return CostBreakdown{
		DurationMinutes: Round(minutes),
		BaseCost:        Round(base),
		Markup:          Round(markup),
		TotalCost:       Round(base.Add(markup)),
	}
}

func (c *Calculator) MessageCost(kind MessageKind, templateName string) decimal.Decimal {
	if c.pricer != nil {
		return Round(c.pricer.MessageCost(kind, templateName))
	}
	return FlatMessagePricer{TemplateCost: c.rates().TemplateMessage}.MessageCost(kind, templateName)
}

// MessageMarkup mirrors the call markup using the plan's message percentage.
func (c *Calculator) MessageMarkup(base decimal.Decimal, plan *plandomain.Plan) decimal.Decimal {
	rate := c.rates().DefaultMessageMarkup
	if plan != nil {
		rate = plan.MessageMarkupPercentage.Div(hundred)
	}
	return Round(base.Mul(rate))
}

// MessageBreakdown prices one message including markup.
func (c *Calculator) MessageBreakdown(kind MessageKind, templateName string, plan *plandomain.Plan) CostBreakdown {
	base := c.MessageCost(kind, templateName)
	markup := c.MessageMarkup(base, plan)
	return CostBreakdown{
		BaseCost:  base,
		Markup:    markup,
		TotalCost: Round(base.Add(markup)),
	}
}

var Module = fx.Module("pricing",
	fx.Provide(NewCalculator),
)
