package textutil

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var currencyLocales = map[string]language.Tag{
	"VND": language.Vietnamese,
	"JPY": language.Japanese,
	"USD": language.AmericanEnglish,
}

// FormatMoney renders a minor-unit-free amount with locale digit grouping followed by the ISO code.
func FormatMoney(amount int64, currencyCode string) string {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if code == "" {
		code = "VND"
	}
	tag, ok := currencyLocales[code]
	if !ok {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	if unit, err := currency.ParseISO(code); err == nil {
		code = unit.String()
	}
	return p.Sprintf("%d %s", amount, code)
}
