package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/validation"
	"gorm.io/datatypes"
)

type Plan struct {
	ID                      snowflake.ID                `json:"id"`
	Code                    string                      `json:"code"`
	Name                    string                      `json:"name"`
	BaseFee                 decimal.Decimal             `json:"base_fee"`
	CallMarkupPercentage    decimal.Decimal             `json:"call_markup_percentage"`
	MessageMarkupPercentage decimal.Decimal             `json:"message_markup_percentage"`
	Features                datatypes.JSONSlice[string] `json:"features"`
	CreatedAt               time.Time                   `json:"created_at"`
	UpdatedAt               time.Time                   `json:"updated_at"`
}

var hundred = decimal.NewFromInt(100)

// NewPlan validates the plan attributes and derives its code from the name.
func NewPlan(id snowflake.ID, name string, baseFee, callMarkup, messageMarkup decimal.Decimal, features []string, now time.Time) (Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Plan{}, ErrInvalidName
	}
	code := slug.Make(name)
	if code == "" {
		return Plan{}, ErrInvalidName
	}
	if baseFee.IsNegative() {
		return Plan{}, ErrInvalidBaseFee
	}
	if !validPercentage(callMarkup) {
		return Plan{}, markupError("call_markup_percentage")
	}
	if !validPercentage(messageMarkup) {
		return Plan{}, markupError("message_markup_percentage")
	}

	return Plan{
		ID:                      id,
		Code:                    code,
		Name:                    name,
		BaseFee:                 baseFee,
		CallMarkupPercentage:    callMarkup,
		MessageMarkupPercentage: messageMarkup,
		Features:                normalizeFeatures(features),
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

func (p Plan) HasFeature(feature string) bool {
	return slices.Contains(p.Features, strings.TrimSpace(feature))
}

// CallMarkupRate is the call markup as a fraction (30 -> 0.30).
func (p Plan) CallMarkupRate() decimal.Decimal {
	return p.CallMarkupPercentage.Div(hundred)
}

func (p Plan) MessageMarkupRate() decimal.Decimal {
	return p.MessageMarkupPercentage.Div(hundred)
}

func markupError(field string) error {
	return validation.New(field, ErrInvalidMarkup.Error(), "must be between 0 and 100")
}

func validPercentage(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(hundred)
}

func normalizeFeatures(features []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(features))
	for _, f := range features {
		f = slug.Make(f)
		f = strings.ReplaceAll(f, "-", "_")
		if f == "" || slices.Contains(out, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}
