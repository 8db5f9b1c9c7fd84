// Package view shapes a quote snapshot for the dashboard table: search,
// sorting, summary counts and display formatting.
package view

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"stockdash/internal/quotefeed"
)

// Field is a sortable column.
type Field string

const (
	FieldSymbol        Field = "symbol"
	FieldPrice         Field = "price"
	FieldChange        Field = "change"
	FieldChangePercent Field = "changePercent"
)

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// ParseField maps a query value to a Field. Empty means FieldSymbol.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.TrimSpace(s)); f {
	case "":
		return FieldSymbol, nil
	case FieldSymbol, FieldPrice, FieldChange, FieldChangePercent:
		return f, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// ParseOrder maps a query value to an Order. Empty means Asc.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return Asc, nil
	case Asc, Desc:
		return o, nil
	}
	return "", fmt.Errorf("unknown sort order %q", s)
}

// SortState is the table's current sort column and direction.
type SortState struct {
	Field Field `json:"field"`
	Order Order `json:"order"`
}

// DefaultSort is symbol ascending.
func DefaultSort() SortState { return SortState{Field: FieldSymbol, Order: Asc} }

// Toggle selects f. Choosing the current field again flips the direction;
// a new field starts ascending.
func (s SortState) Toggle(f Field) SortState {
	if s.Field == f {
		if s.Order == Asc {
			return SortState{Field: f, Order: Desc}
		}
		return SortState{Field: f, Order: Asc}
	}
	return SortState{Field: f, Order: Asc}
}

// Filter keeps quotes whose symbol contains term, ignoring case.
// An empty term keeps everything. The input is not modified.
func Filter(quotes []quotefeed.Quote, term string) []quotefeed.Quote {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]quotefeed.Quote, 0, len(quotes))
	for _, q := range quotes {
		if term == "" || strings.Contains(strings.ToLower(q.Symbol), term) {
			out = append(out, q)
		}
	}
	return out
}

// Sort orders quotes in place by s. Ties keep their relative order.
func Sort(quotes []quotefeed.Quote, s SortState) {
	less := func(a, b quotefeed.Quote) bool {
		switch s.Field {
		case FieldPrice:
			return a.Price < b.Price
		case FieldChange:
			return a.Change < b.Change
		case FieldChangePercent:
			return a.ChangePercent < b.ChangePercent
		default:
			return strings.ToLower(a.Symbol) < strings.ToLower(b.Symbol)
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		if s.Order == Desc {
			return less(quotes[j], quotes[i])
		}
		return less(quotes[i], quotes[j])
	})
}

// Summary counts the stats cards.
type Summary struct {
	Total   int `json:"total"`
	Gainers int `json:"gainers"`
	Losers  int `json:"losers"`
}

// Summarize counts gainers (positive percent change) and losers (negative).
// Unchanged quotes count only toward Total.
func Summarize(quotes []quotefeed.Quote) Summary {
	s := Summary{Total: len(quotes)}
	for _, q := range quotes {
		switch {
		case q.ChangePercent > 0:
			s.Gainers++
		case q.ChangePercent < 0:
			s.Losers++
		}
	}
	return s
}

// Row is a quote with its display strings.
type Row struct {
	quotefeed.Quote
	PriceText         string `json:"priceText"`
	ChangeText        string `json:"changeText"`
	ChangePercentText string `json:"changePercentText"`
}

// Rows formats each quote.
func Rows(quotes []quotefeed.Quote) []Row {
	out := make([]Row, len(quotes))
	for i, q := range quotes {
		out[i] = Row{
			Quote:             q,
			PriceText:         FormatPrice(q.Price),
			ChangeText:        FormatChange(q.Change),
			ChangePercentText: FormatPercent(q.ChangePercent),
		}
	}
	return out
}

// FormatPrice renders v as US dollars with thousands separators, e.g. $1,234.50.
func FormatPrice(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole, frac, _ := strings.Cut(d.StringFixed(2), ".")
	return sign + "$" + group(whole) + "." + frac
}

// FormatChange renders v with two decimals and an explicit sign, e.g. +1.23.
func FormatChange(v float64) string {
	return signed(v)
}

// FormatPercent is FormatChange with a percent suffix, e.g. -0.18%.
func FormatPercent(v float64) string {
	return signed(v) + "%"
}

func signed(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.Sign() >= 0 {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
