package tabular

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docfold/docfold/fault"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultLocale is used when a table does not declare one.
const DefaultLocale = "en-US"

type colFormat struct {
	kind     string // currency, percent, decimal, integer, accounting
	currency string
	digits   int
}

var formatSpecRe = regexp.MustCompile(`^(currency:[A-Z]{3}|percent|decimal:\d{1,2}|integer|accounting)$`)

func parseFormat(spec string) (colFormat, *fault.Error) {
	if !formatSpecRe.MatchString(spec) {
		return colFormat{}, fault.Newf(fault.InvalidNumberFormat, "invalid number format %q", spec)
	}
	switch {
	case spec == "percent":
		return colFormat{kind: "percent"}, nil
	case spec == "integer":
		return colFormat{kind: "integer"}, nil
	case spec == "accounting":
		return colFormat{kind: "accounting"}, nil
	case strings.HasPrefix(spec, "currency:"):
		return colFormat{kind: "currency", currency: strings.TrimPrefix(spec, "currency:")}, nil
	default: // decimal:<n>
		n, err := strconv.Atoi(strings.TrimPrefix(spec, "decimal:"))
		if err != nil || n > 12 {
			return colFormat{}, fault.Newf(fault.InvalidNumberFormat, "invalid number format %q", spec)
		}
		return colFormat{kind: "decimal", digits: n}, nil
	}
}

// ValidFormat reports whether spec is an accepted number format.
func ValidFormat(spec string) bool {
	_, err := parseFormat(spec)
	return err == nil
}

// currencySymbols maps ISO-4217 codes to display affixes. Codes outside the
// table render as "CODE 1,234.56".
var currencySymbols = map[string]string{
	"USD": "$", "EUR": "€", "GBP": "£", "JPY": "¥",
	"CNY": "¥", "INR": "₹", "KRW": "₩", "BRL": "R$",
	"AUD": "A$", "CAD": "C$", "NZD": "NZ$", "HKD": "HK$", "SGD": "S$",
	"MXN": "MX$", "ILS": "₪", "THB": "฿", "VND": "₫",
	"PHP": "₱", "TRY": "₺", "RUB": "₽", "NGN": "₦",
	"UAH": "₴", "ZAR": "R",
}

// currencyDigits lists minor-unit exceptions to the two-digit default.
var currencyDigits = map[string]int{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

func localeTag(locale string) language.Tag {
	if locale == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return language.AmericanEnglish
	}
	return tag
}

// ValidLocale reports whether locale parses as a BCP-47 tag. Underscored
// forms like en_US are tolerated.
func ValidLocale(locale string) bool {
	_, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	return err == nil
}

func (f colFormat) render(v float64, p *message.Printer) string {
	switch f.kind {
	case "currency":
		digits := 2
		if d, ok := currencyDigits[f.currency]; ok {
			digits = d
		}
		symbol, ok := currencySymbols[f.currency]
		if !ok {
			symbol = f.currency + " "
		} else if last := symbol[len(symbol)-1]; last >= 'A' && last <= 'Z' {
			symbol += " "
		}
		sign := ""
		if v < 0 {
			sign, v = "-", -v
		}
		return sign + symbol + p.Sprintf("%v", number.Decimal(v, number.Scale(digits)))
	case "percent":
		return p.Sprintf("%v", number.Decimal(v*100, number.MaxFractionDigits(2))) + "%"
	case "integer":
		return p.Sprintf("%v", number.Decimal(v, number.Scale(0)))
	case "accounting":
		if v < 0 {
			return "(" + p.Sprintf("%v", number.Decimal(-v, number.Scale(2))) + ")"
		}
		return p.Sprintf("%v", number.Decimal(v, number.Scale(2)))
	default: // decimal
		return p.Sprintf("%v", number.Decimal(v, number.Scale(f.digits)))
	}
}

// FormatNumber renders one value with the given format string and locale.
// Non-numeric values fail with INVALID_NUMBER_FORMAT only when the format
// string itself is malformed; otherwise they are returned unchanged.
func FormatNumber(spec string, v any, locale string) (string, *fault.Error) {
	f, ferr := parseFormat(spec)
	if ferr != nil {
		return "", ferr
	}
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return "", nil
	}
	n, ok := numericCell(v)
	if !ok {
		return fmt.Sprint(v), nil
	}
	return f.render(n, message.NewPrinter(localeTag(locale))), nil
}

// ApplyFormats returns a copy of rows with per-column formats applied to the
// data rows. The header row, when present, is never formatted.
func ApplyFormats(rows [][]any, formats map[int]string, hasHeader bool, locale string) ([][]any, *fault.Error) {
	if len(formats) == 0 {
		return rows, nil
	}
	parsed := map[int]colFormat{}
	for idx, spec := range formats {
		f, err := parseFormat(spec)
		if err != nil {
			return nil, err
		}
		parsed[idx] = f
	}
	p := message.NewPrinter(localeTag(locale))

	out := make([][]any, len(rows))
	for i, row := range rows {
		if hasHeader && i == 0 {
			out[i] = row
			continue
		}
		formatted := make([]any, len(row))
		copy(formatted, row)
		for idx, f := range parsed {
			if idx >= len(row) {
				continue
			}
			cell := row[idx]
			if cell == nil {
				formatted[idx] = ""
				continue
			}
			if s, ok := cell.(string); ok && strings.TrimSpace(s) == "" {
				formatted[idx] = ""
				continue
			}
			if n, ok := numericCell(cell); ok {
				formatted[idx] = f.render(n, p)
			}
		}
		out[i] = formatted
	}
	return out, nil
}
