package jsonpath

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Style selects how Format renders a value.
type Style string

const (
	Number   Style = "number"
	Currency Style = "currency"
	Percent  Style = "percent"
	Text     Style = "text"
)

// ParseStyle returns the Style named s. The empty string is Number.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return Number, nil
	case Number, Currency, Percent, Text:
		return st, nil
	default:
		return "", fmt.Errorf("unknown format %q (want number, currency, percent or text)", s)
	}
}

var printer = message.NewPrinter(language.English)

// Format renders v for display. Missing values render as "-". Values that are
// not finite numbers render as text whatever the style.
func Format(v any, style Style) string {
	if v == nil {
		return "-"
	}

	f, ok := toFloat(v)
	if !ok || style == Text {
		return toText(v)
	}

	switch style {
	case Currency:
		amount := printer.Sprint(number.Decimal(math.Abs(f), number.MinFractionDigits(2), number.MaxFractionDigits(2)))
		if f < 0 {
			return "-$" + amount
		}
		return "$" + amount
	case Percent:
		return printer.Sprint(number.Percent(f, number.MaxFractionDigits(2)))
	default:
		return printer.Sprint(number.Decimal(f, number.MaxFractionDigits(4)))
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
