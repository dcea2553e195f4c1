// Package catalog holds the built-in plan definitions seeded on startup.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var raw []byte

type Entry struct {
	Name                    string
	BaseFee                 decimal.Decimal
	CallMarkupPercentage    decimal.Decimal
	MessageMarkupPercentage decimal.Decimal
	Features                []string
}

type document struct {
	Plans []struct {
		Name                    string   `yaml:"name"`
		BaseFee                 string   `yaml:"base_fee"`
		CallMarkupPercentage    string   `yaml:"call_markup_percentage"`
		MessageMarkupPercentage string   `yaml:"message_markup_percentage"`
		Features                []string `yaml:"features"`
	} `yaml:"plans"`
}

// Load parses the embedded catalog.
func Load() ([]Entry, error) {
	return Parse(raw)
}

func Parse(data []byte) ([]Entry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}

	entries := make([]Entry, 0, len(doc.Plans))
	for _, p := range doc.Plans {
		baseFee, err := decimal.NewFromString(p.BaseFee)
		if err != nil {
			return nil, fmt.Errorf("plan %q base_fee: %w", p.Name, err)
		}
		callMarkup, err := decimal.NewFromString(p.CallMarkupPercentage)
		if err != nil {
			return nil, fmt.Errorf("plan %q call_markup_percentage: %w", p.Name, err)
		}
		messageMarkup, err := decimal.NewFromString(p.MessageMarkupPercentage)
		if err != nil {
			return nil, fmt.Errorf("plan %q message_markup_percentage: %w", p.Name, err)
		}
		entries = append(entries, Entry{
			Name:                    p.Name,
			BaseFee:                 baseFee,
			CallMarkupPercentage:    callMarkup,
			MessageMarkupPercentage: messageMarkup,
			Features:                p.Features,
		})
	}
	return entries, nil
}
