package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}-{ID}"

// FormatInvoiceNumber expands the date tokens of template with the billing
// period and {ID} with a unique suffix. It has no side effects.
func FormatInvoiceNumber(template string, period time.Time, id string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("invoice number id is empty")
	}

	out := template
	out = strings.ReplaceAll(out, "{YYYY}", period.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", period.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", period.Format("01"))
	out = strings.ReplaceAll(out, "{ID}", id)

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}
	return out, nil
}

// Money renders an amount with two decimals using banker's rounding.
func Money(amount decimal.Decimal) string {
	return "USD " + amount.RoundBank(2).StringFixed(2)
}

// MonthTitle renders "2025-02" as "February 2025".
func MonthTitle(month string) string {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return month
	}
	return t.Format("January 2006")
}
